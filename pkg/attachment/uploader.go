package attachment

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of a successful upload. Key is the durable
// reference to persist (e.g. in a chat message record); SignedURL is a
// time-limited convenience and must never be stored in its place.
type Result struct {
	Key       string
	SignedURL string
	MIME      string
	ETag      string
	Size      int64
	RequestID string
}

// Uploader is the public entry point of the pipeline. It validates,
// optionally recompresses, builds the object key, selects the transfer
// strategy against the broker's shared handle, drives progress callbacks
// and signs the stored key. Uploads are independent of each other; the
// only shared state is the broker's handle.
type Uploader struct {
	broker      *Broker
	transcoder  Transcoder
	log         *slog.Logger
	now         func() time.Time
	newUUID     func() string
	simInterval time.Duration
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithTranscoder replaces the default image transcoder. Pass
// NewNoopTranscoder to disable recompression globally.
func WithTranscoder(t Transcoder) UploaderOption {
	return func(u *Uploader) { u.transcoder = t }
}

// WithLogger sets the logger for non-fatal pipeline events.
func WithLogger(log *slog.Logger) UploaderOption {
	return func(u *Uploader) { u.log = log }
}

// NewUploader creates an Uploader over the given broker.
func NewUploader(broker *Broker, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		broker:      broker,
		transcoder:  NewTranscoder(),
		log:         slog.Default(),
		now:         time.Now,
		newUUID:     func() string { return uuid.NewString() },
		simInterval: simProgressInterval,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	unsafeCharsRe = regexp.MustCompile(`[^\w\-.]`)
)

// NormalizeFilename trims the name, replaces whitespace runs with
// underscores and strips everything outside word characters, hyphens and
// dots. An empty result is replaced with a timestamped placeholder.
func NormalizeFilename(name string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = "file"
	}
	cleaned := unsafeCharsRe.ReplaceAllString(whitespaceRe.ReplaceAllString(base, "_"), "")
	if cleaned == "" {
		return fmt.Sprintf("file-%d", time.Now().UnixMilli())
	}
	return cleaned
}

// Upload stores blob under a freshly generated object key and returns the
// result record. filename and mime are the caller-declared metadata; an
// empty mime defaults to application/octet-stream.
//
// Validation and key-generation failures surface before any network
// activity. Transfer failures carry the underlying cause. A signing
// failure does not fail the upload; the result simply has no SignedURL.
func (u *Uploader) Upload(ctx context.Context, blob []byte, filename, mime string, opts ...UploadOption) (*Result, error) {
	if len(blob) == 0 {
		return nil, ErrNoFile
	}

	o := defaultUploadOptions()
	for _, opt := range opts {
		opt(o)
	}

	safeName := NormalizeFilename(filename)
	ext := extOf(safeName)
	if ext == "" {
		ext = "bin"
	}
	originMIME := mime
	if originMIME == "" {
		originMIME = "application/octet-stream"
	}

	if err := ValidateMeta(safeName, originMIME, int64(len(blob))); err != nil {
		return nil, err
	}

	payload, payloadMIME := blob, originMIME
	if o.compressImage && isImageMIME(originMIME) {
		if out, outMIME, err := u.transcoder.Transcode(blob, originMIME, o.compress); err == nil {
			payload, payloadMIME = out, outMIME
		} else {
			u.log.Debug("image recompression skipped", slog.Any("error", err))
		}
	}

	size := int64(len(payload))
	if size > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes after compression", ErrFileTooLarge, size)
	}

	now := u.now()
	keyCtx := KeyContext{
		Filename: safeName,
		Ext:      ext,
		MIME:     payloadMIME,
		Size:     size,
		UUID:     u.newUUID(),
		Year:     now.Year(),
		Month:    now.Month(),
		Day:      now.Day(),
	}

	raw := ""
	if o.buildKey != nil {
		raw = o.buildKey(keyCtx)
	} else {
		raw = buildDefaultKey(o.prefix, keyCtx)
	}
	key, err := finalizeKey(raw)
	if err != nil {
		return nil, err
	}

	store, err := u.broker.Client(ctx)
	if err != nil {
		return nil, err
	}

	useMultipart := o.forceMultipart || (!o.forcePut && size >= o.sizeThreshold)

	var transfer *TransferResult
	if useMultipart {
		var onFraction func(float64)
		if o.onProgress != nil {
			onFraction = monotonicPercent(o.onProgress)
		}
		transfer, err = store.MultipartUpload(ctx, key, bytes.NewReader(payload), size, payloadMIME, onFraction)
		if err == nil && o.onProgress != nil {
			onFraction(1)
		}
	} else {
		transfer, err = u.putWithSimulatedProgress(ctx, store, key, payload, payloadMIME, o.onProgress)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Key:  key,
		MIME: payloadMIME,
		Size: size,
	}
	if transfer != nil {
		res.ETag = transfer.ETag
		res.RequestID = transfer.RequestID
	}

	if o.withSignedURL {
		signed, err := store.Presign(ctx, key, o.signedURLExpires)
		if err != nil {
			// Non-fatal: the key is stored either way, the caller can
			// re-sign it later.
			u.log.Warn("signed url generation failed",
				slog.String("key", key), slog.Any("error", err))
		} else {
			res.SignedURL = signed
		}
	}

	return res, nil
}

// putWithSimulatedProgress runs the single-put path. That transfer
// primitive has no progress signal, so a synthetic ramp stands in while
// the request is outstanding.
func (u *Uploader) putWithSimulatedProgress(ctx context.Context, store BlobStore, key string, payload []byte, mime string, onProgress func(int)) (*TransferResult, error) {
	var sim *simulatedProgress
	if onProgress != nil {
		sim = startSimulatedProgress(onProgress, u.simInterval)
	}

	transfer, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), mime)
	if sim != nil {
		if err != nil {
			sim.halt()
		} else {
			sim.finish()
		}
	}
	if err != nil {
		return nil, err
	}
	return transfer, nil
}
