package vendcreds

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	lastInput *sts.AssumeRoleInput
	err       error
}

func (f *fakeSTS) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.lastInput = in
	if f.err != nil {
		return nil, f.err
	}
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	return &sts.AssumeRoleOutput{
		Credentials: &types.Credentials{
			AccessKeyId:     aws.String("ASIA123"),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      aws.Time(exp),
		},
	}, nil
}

func testConfig() Config {
	return Config{
		RoleARN:   "arn:aws:iam::123456789012:role/imchat-uploads",
		Bucket:    "im-biz-bucket",
		Region:    "us-east-1",
		KeyPrefix: "im-biz",
	}
}

func TestVendor_Vend(t *testing.T) {
	t.Parallel()

	t.Run("maps credentials into the lease shape", func(t *testing.T) {
		t.Parallel()
		stub := &fakeSTS{}
		v := New(stub, testConfig(), slog.New(slog.DiscardHandler))

		lease, err := v.Vend(context.Background(), "user-1")
		require.NoError(t, err)
		require.Equal(t, "ASIA123", lease.AccessKeyID)
		require.Equal(t, "secret", lease.AccessKeySecret)
		require.Equal(t, "token", lease.SecurityToken)
		require.Equal(t, "im-biz-bucket", lease.Bucket)
		require.Equal(t, "us-east-1", lease.Region)

		// expiresIn is an absolute unix-milliseconds timestamp.
		require.Greater(t, lease.ExpiresIn, time.Now().Add(30*time.Minute).UnixMilli())
	})

	t.Run("session is scoped and attributed", func(t *testing.T) {
		t.Parallel()
		stub := &fakeSTS{}
		v := New(stub, testConfig(), slog.New(slog.DiscardHandler))

		_, err := v.Vend(context.Background(), "b7f3c9d1-0000-4000-8000-000000000001")
		require.NoError(t, err)

		in := stub.lastInput
		require.Equal(t, int32(3600), aws.ToInt32(in.DurationSeconds))
		require.Contains(t, aws.ToString(in.RoleSessionName), "imchat-b7f3c9d1")
		require.Contains(t, aws.ToString(in.Policy), `"arn:aws:s3:::im-biz-bucket/im-biz/*"`)
	})

	t.Run("unconfigured role is rejected", func(t *testing.T) {
		t.Parallel()
		v := New(&fakeSTS{}, Config{}, slog.New(slog.DiscardHandler))
		_, err := v.Vend(context.Background(), "user-1")
		require.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestSessionName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "imchat-abc-123", sessionName("abc-123"))
	require.Equal(t, "imchat-a_b_c", sessionName("a b@c"))
	require.LessOrEqual(t, len(sessionName(string(make([]byte, 200)))), 64)
}
