package attachment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPCredentialSource fetches credential leases from the chat API's
// vending endpoint (POST {base}/api/oss/config). The response uses the
// API's standard envelope with the lease payload in data.
type HTTPCredentialSource struct {
	client  *http.Client
	baseURL string
	token   func() string
}

// NewHTTPCredentialSource creates a source for the given API base URL.
// token is called per request so rotated auth tokens are picked up.
func NewHTTPCredentialSource(baseURL string, token func() string) *HTTPCredentialSource {
	return &HTTPCredentialSource{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
	}
}

// FetchCredentials implements CredentialSource.
func (s *HTTPCredentialSource) FetchCredentials(ctx context.Context) (*LeaseResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/oss/config", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != nil {
		if t := s.token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachment: credential fetch failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool           `json:"success"`
		Message string         `json:"message"`
		Data    *LeaseResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("attachment: credential response decode failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		return nil, fmt.Errorf("attachment: credential fetch rejected: %s", envelope.Message)
	}

	return envelope.Data, nil
}
