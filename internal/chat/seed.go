package chat

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// Seed inserts the demo directory when the users table is empty. Demo
// accounts all share the password "123456".
func (s *Store) Seed(ctx context.Context, log *slog.Logger) error {
	n, err := s.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	type seedUser struct {
		username, name         string
		role                   Role
		title, org             string
		bio, specialty, mobile string
		creditCode             string
	}
	users := []seedUser{
		{
			username: "expert1", name: "Dr. Wang Jianguo", role: RoleExpert,
			title: "Senior Engineer", specialty: "Industrial automation, smart manufacturing",
			bio: "20 years in industrial control systems.", mobile: "13800000001",
		},
		{
			username: "expert2", name: "Prof. Li Ming", role: RoleExpert,
			title: "Professor", specialty: "New materials, surface treatment",
			bio: "Materials science researcher and consultant.", mobile: "13800000002",
		},
		{
			username: "expert3", name: "Dr. Zhang Wei", role: RoleExpert,
			title: "Chief Architect", specialty: "Enterprise software, data platforms",
			bio: "Builds data infrastructure for manufacturers.", mobile: "13800000003",
		},
		{
			username: "enterprise1", name: "Huarui Precision Machinery", role: RoleEnterprise,
			org: "Huarui Precision Machinery Co., Ltd.", creditCode: "91330100MA27XX1234",
			bio: "Precision parts manufacturer.", mobile: "13900000001",
		},
		{
			username: "enterprise2", name: "Lanhai New Energy", role: RoleEnterprise,
			org: "Lanhai New Energy Technology Co., Ltd.", creditCode: "91330100MA27XX5678",
			bio: "Battery component supplier.", mobile: "13900000002",
		},
	}

	for _, u := range users {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO users (username, password_hash, name, role, title, organization, bio, specialty, mobile, credit_code)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			u.username, string(hash), u.name, u.role, u.title, u.org, u.bio, u.specialty, u.mobile, u.creditCode)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.username, err)
		}
	}

	log.Info("seeded demo users", slog.Int("count", len(users)))
	return nil
}
