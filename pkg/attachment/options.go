package attachment

import "time"

// DefaultSizeThreshold is the cutover from single-put to multipart.
const DefaultSizeThreshold = 5 << 20 // 5 MiB

// DefaultSignedURLExpiry applies when the caller requests a signed URL in
// the upload result without an explicit expiry.
const DefaultSignedURLExpiry = time.Hour

// UploadOption configures a single Upload call.
type UploadOption func(*uploadOptions)

type uploadOptions struct {
	prefix           string
	onProgress       func(percent int)
	buildKey         KeyBuilder
	sizeThreshold    int64
	forceMultipart   bool
	forcePut         bool
	withSignedURL    bool
	signedURLExpires time.Duration
	compressImage    bool
	compress         CompressOptions
}

func defaultUploadOptions() *uploadOptions {
	return &uploadOptions{
		sizeThreshold:    DefaultSizeThreshold,
		withSignedURL:    true,
		signedURLExpires: DefaultSignedURLExpiry,
		compressImage:    true,
	}
}

// WithPrefix sets the directory prefix for the default key layout, e.g.
// "chat" or "eqa-biz/assets". Ignored when WithKeyBuilder is used.
func WithPrefix(prefix string) UploadOption {
	return func(o *uploadOptions) { o.prefix = prefix }
}

// WithProgress registers a progress callback receiving whole percentages
// 0-100. Values are non-decreasing for the lifetime of one upload.
func WithProgress(fn func(percent int)) UploadOption {
	return func(o *uploadOptions) { o.onProgress = fn }
}

// WithKeyBuilder replaces the default object-key layout entirely. The
// produced key is still forced under the namespace root.
func WithKeyBuilder(fn KeyBuilder) UploadOption {
	return func(o *uploadOptions) { o.buildKey = fn }
}

// WithSizeThreshold overrides the single-put/multipart cutover in bytes.
func WithSizeThreshold(bytes int64) UploadOption {
	return func(o *uploadOptions) {
		if bytes > 0 {
			o.sizeThreshold = bytes
		}
	}
}

// ForceMultipart always uses the multipart path regardless of size.
func ForceMultipart() UploadOption {
	return func(o *uploadOptions) { o.forceMultipart = true }
}

// ForcePut always uses the single-put path regardless of size. Not
// recommended for very large payloads.
func ForcePut() UploadOption {
	return func(o *uploadOptions) { o.forcePut = true }
}

// WithoutSignedURL omits the signed URL from the upload result.
func WithoutSignedURL() UploadOption {
	return func(o *uploadOptions) { o.withSignedURL = false }
}

// WithSignedURLExpiry sets how long the signed URL in the result stays
// valid. Default is one hour.
func WithSignedURLExpiry(d time.Duration) UploadOption {
	return func(o *uploadOptions) {
		if d > 0 {
			o.signedURLExpires = d
		}
	}
}

// WithoutCompression disables image recompression for this upload.
func WithoutCompression() UploadOption {
	return func(o *uploadOptions) { o.compressImage = false }
}

// WithCompression sets the image recompression parameters.
func WithCompression(opts CompressOptions) UploadOption {
	return func(o *uploadOptions) { o.compress = opts }
}

// SignOption configures a SignURL call.
type SignOption func(*signOptions)

type signOptions struct {
	expires time.Duration
}

// WithExpires sets the signed URL validity window.
func WithExpires(d time.Duration) SignOption {
	return func(o *signOptions) {
		if d > 0 {
			o.expires = d
		}
	}
}
