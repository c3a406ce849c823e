package attachment

import (
	"fmt"
	"strings"
	"time"
)

// namespaceRoot is the fixed partition every object key lives under,
// regardless of which key-building path produced the raw key.
const namespaceRoot = "im-biz/"

// defaultKeyPrefix is used when the caller supplies no prefix.
const defaultKeyPrefix = "uploads"

// KeyContext carries the file metadata available to key builders.
type KeyContext struct {
	Filename string
	Ext      string
	MIME     string
	Size     int64
	UUID     string
	Year     int
	Month    time.Month
	Day      int
}

// KeyBuilder produces a raw object key from file metadata. A builder
// supplied by the caller takes precedence over the default layout; the
// result is still forced under the namespace root.
type KeyBuilder func(KeyContext) string

// buildDefaultKey lays out keys as {prefix}/{year}/{MM}/{uuid}.{ext},
// e.g. uploads/2026/08/9f3a....txt. The prefix is trimmed of surrounding
// slashes so nested prefixes like "chat/inbound" stay intact.
func buildDefaultKey(prefix string, ctx KeyContext) string {
	p := strings.Trim(prefix, "/")
	if p == "" {
		p = defaultKeyPrefix
	}
	return fmt.Sprintf("%s/%d/%02d/%s.%s", p, ctx.Year, int(ctx.Month), ctx.UUID, ctx.Ext)
}

// finalizeKey strips leading slashes and forces the key under the
// namespace root. An empty result is a fatal input error.
func finalizeKey(raw string) (string, error) {
	key := strings.TrimLeft(strings.TrimSpace(raw), "/")
	if key == "" {
		return "", ErrEmptyKey
	}
	if !strings.HasPrefix(key, namespaceRoot) {
		key = namespaceRoot + key
	}
	return key, nil
}
