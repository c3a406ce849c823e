package attachment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignURL_PassthroughNeedsNoCredentials(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"http://example.com/a.png",
		"https://example.com/a.png",
		"HTTPS://example.com/a.png",
		"blob:https://app.example.com/550e8400",
		"data:image/png;base64,iVBORw0KGgo=",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			t.Parallel()
			up, _, source := uploaderFixture(t)

			url, err := up.SignURL(context.Background(), in)
			require.NoError(t, err)
			require.Equal(t, in, url, "already-resolved references are returned unchanged")
			require.Zero(t, source.fetches.Load(), "the credential broker is never consulted")
		})
	}
}

func TestSignURL_EmptyKeyFails(t *testing.T) {
	t.Parallel()

	up, _, _ := uploaderFixture(t)
	_, err := up.SignURL(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestSignURL_RoundTripWithUpload(t *testing.T) {
	t.Parallel()

	up, _, source := uploaderFixture(t)

	res, err := up.Upload(context.Background(), []byte("hello"), "a.txt", "text/plain",
		WithoutSignedURL())
	require.NoError(t, err)

	url, err := up.SignURL(context.Background(), res.Key, WithExpires(30*time.Minute))
	require.NoError(t, err)
	require.Contains(t, url, res.Key, "the signed url references the uploaded key")
	require.Equal(t, int32(1), source.fetches.Load(), "upload and sign share the lease")
}

func TestSignURL_PresignErrorPropagates(t *testing.T) {
	t.Parallel()

	up, store, _ := uploaderFixture(t)
	store.presignErr = errors.New("presign broke")

	_, err := up.SignURL(context.Background(), "im-biz/uploads/2026/08/x.txt")
	require.Error(t, err, "standalone signing failures are fatal, unlike the upload path")
}

func TestSignURL_CredentialFailurePropagates(t *testing.T) {
	t.Parallel()

	source := &countingSource{err: errors.New("vending down")}
	broker, _ := newTestBroker(t, source)
	up := NewUploader(broker)

	_, err := up.SignURL(context.Background(), "im-biz/uploads/2026/08/x.txt")
	require.Error(t, err)
}
