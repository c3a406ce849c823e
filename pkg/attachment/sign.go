package attachment

import (
	"context"
	"fmt"
	"strings"
)

// passthroughPrefixes are reference forms that need no signing: local blob
// handles, inline data URIs and absolute URLs.
var passthroughPrefixes = []string{"blob:", "data:", "http://", "https://"}

// SignURL resolves a stored object key to a short-lived signed URL. Inputs
// that are already a URL or a local blob/data reference are returned
// unchanged without touching the credential broker. Unlike the upload
// path, a signing failure here propagates to the caller.
func (u *Uploader) SignURL(ctx context.Context, key string, opts ...SignOption) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty object key", ErrEmptyKey)
	}

	lower := strings.ToLower(key)
	for _, p := range passthroughPrefixes {
		if strings.HasPrefix(lower, p) {
			return key, nil
		}
	}

	o := &signOptions{expires: DefaultSignedURLExpiry}
	for _, opt := range opts {
		opt(o)
	}

	store, err := u.broker.Client(ctx)
	if err != nil {
		return "", err
	}

	return store.Presign(ctx, key, o.expires)
}
