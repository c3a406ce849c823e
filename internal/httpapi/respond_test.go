package httpapi

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imbizlabs/imchat/internal/auth"
	"github.com/imbizlabs/imchat/internal/chat"
)

func TestRespondOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	respondOK(rec, map[string]string{"hello": "world"})

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success)
	require.Equal(t, 200, env.Code)
	require.Equal(t, "Success", env.Message)
	require.Equal(t, map[string]any{"hello": "world"}, env.Data)
}

func TestRespondFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", chat.ErrNotFound, 404},
		{"wrapped not found", errors.Join(errors.New("load"), chat.ErrNotFound), 404},
		{"foreign message", chat.ErrNotMessageOwner, 403},
		{"recall window passed", chat.ErrRecallExpired, 400},
		{"missing token", auth.ErrNoToken, 401},
		{"bad token", auth.ErrInvalidToken, 401},
		{"unknown error", errors.New("pq: connection reset"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			respondFailure(rec, tt.err)

			require.Equal(t, tt.wantStatus, rec.Code)

			var env envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.False(t, env.Success)
			require.Equal(t, tt.wantStatus, env.Code)
			require.NotEmpty(t, env.Message)
		})
	}
}

func TestRespondFailure_HidesInternals(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	respondFailure(rec, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	require.NotContains(t, rec.Body.String(), "10.0.0.5")
}
