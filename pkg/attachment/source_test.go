package attachment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPCredentialSource_FetchCredentials(t *testing.T) {
	t.Parallel()

	t.Run("decodes the envelope payload", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/oss/config", r.URL.Path)
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"code":    200,
				"message": "Success",
				"data": map[string]any{
					"accessKeyId":     "AKID",
					"accessKeySecret": "secret",
					"securityToken":   "token",
					"bucket":          "im-biz-bucket",
					"region":          "us-east-1",
					"expiresIn":       1767225600000,
				},
			})
		}))
		defer srv.Close()

		source := NewHTTPCredentialSource(srv.URL, func() string { return "tok-1" })
		lease, err := source.FetchCredentials(context.Background())
		require.NoError(t, err)
		require.Equal(t, "AKID", lease.AccessKeyID)
		require.Equal(t, "im-biz-bucket", lease.Bucket)
		require.Equal(t, int64(1767225600000), lease.ExpiresIn)
	})

	t.Run("rejected envelope surfaces the message", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"code":    500,
				"message": "Missing Server STS Configuration",
			})
		}))
		defer srv.Close()

		source := NewHTTPCredentialSource(srv.URL, nil)
		_, err := source.FetchCredentials(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "Missing Server STS Configuration")
	})
}
