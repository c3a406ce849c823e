// Package vendcreds mints the short-lived storage credentials handed to
// chat clients for direct-to-bucket uploads.
package vendcreds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var ErrNotConfigured = errors.New("vendcreds: sts role is not configured")

// SessionDuration is the lifetime of each vended credential set.
const SessionDuration = time.Hour

// Config names the role to assume and the bucket the credentials grant
// access to.
type Config struct {
	RoleARN  string
	Bucket   string
	Region   string
	Endpoint string
	// KeyPrefix limits the session policy to the app's namespace.
	KeyPrefix string
}

// Lease is the JSON payload returned to clients. Field names follow the
// shape the upload pipeline expects; expiresIn is an absolute unix
// timestamp in milliseconds.
type Lease struct {
	AccessKeyID     string `json:"accessKeyId"`
	AccessKeySecret string `json:"accessKeySecret"`
	SecurityToken   string `json:"securityToken"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint,omitempty"`
	ExpiresIn       int64  `json:"expiresIn"`
}

// STSAPI is the slice of the STS client the vendor uses.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Vendor assumes the configured role per request, scoping each session to
// the requesting user's uploads via a session policy.
type Vendor struct {
	client STSAPI
	cfg    Config
	log    *slog.Logger
}

func New(client STSAPI, cfg Config, log *slog.Logger) *Vendor {
	return &Vendor{client: client, cfg: cfg, log: log}
}

// Vend assumes the role and maps the credentials into the client lease
// shape. The session name carries the user id for CloudTrail attribution.
func (v *Vendor) Vend(ctx context.Context, userID string) (*Lease, error) {
	if v.cfg.RoleARN == "" || v.cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}

	out, err := v.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(v.cfg.RoleARN),
		RoleSessionName: aws.String(sessionName(userID)),
		DurationSeconds: aws.Int32(int32(SessionDuration.Seconds())),
		Policy:          aws.String(v.sessionPolicy()),
	})
	if err != nil {
		return nil, fmt.Errorf("assume role: %w", err)
	}

	creds := out.Credentials
	lease := &Lease{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		AccessKeySecret: aws.ToString(creds.SecretAccessKey),
		SecurityToken:   aws.ToString(creds.SessionToken),
		Bucket:          v.cfg.Bucket,
		Region:          v.cfg.Region,
		Endpoint:        v.cfg.Endpoint,
		ExpiresIn:       aws.ToTime(creds.Expiration).UnixMilli(),
	}
	v.log.Info("vended storage credentials",
		slog.String("user_id", userID),
		slog.Time("expires_at", aws.ToTime(creds.Expiration)))
	return lease, nil
}

// sessionPolicy narrows the assumed role to object writes and reads under
// the app namespace, regardless of how broad the role itself is.
func (v *Vendor) sessionPolicy() string {
	prefix := strings.Trim(v.cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = "im-biz"
	}
	return fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Action": ["s3:PutObject", "s3:GetObject", "s3:AbortMultipartUpload", "s3:ListMultipartUploadParts"],
      "Resource": "arn:aws:s3:::%s/%s/*"
    }
  ]
}`, v.cfg.Bucket, prefix)
}

// sessionName sanitizes the user id into the character set STS allows.
func sessionName(userID string) string {
	var b strings.Builder
	b.WriteString("imchat-")
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
