package attachment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultRegion is used when the lease carries no region.
const DefaultRegion = "us-east-1"

// refreshTimeout bounds a single background token renewal.
const refreshTimeout = 30 * time.Second

// TransferResult carries the response metadata of a completed transfer.
// Both fields are optional; absence is not an error.
type TransferResult struct {
	ETag      string
	RequestID string
}

// BlobStore is the shared storage handle wrapping one credential lease.
// It is created and replaced only by the Broker; callers must treat it as
// read-only and re-acquire it via Broker.Client for each operation.
type BlobStore interface {
	// Put uploads the object in a single request.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*TransferResult, error)

	// MultipartUpload uploads the object in parts and reports native
	// progress as a fraction in [0, 1].
	MultipartUpload(ctx context.Context, key string, body io.Reader, size int64, contentType string, onProgress func(fraction float64)) (*TransferResult, error)

	// Presign returns a time-limited signed GET URL for the key.
	Presign(ctx context.Context, key string, expires time.Duration) (string, error)

	// Close stops the handle's background token renewal. In-flight
	// transfers are unaffected.
	Close()
}

// s3Handle implements BlobStore on top of S3-compatible object storage.
// The embedded credentials self-refresh on a fixed interval so transfers
// that outlive a single lease keep working.
type s3Handle struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	bucket    string
	log       *slog.Logger

	creds atomic.Pointer[aws.Credentials]

	stop     chan struct{}
	stopOnce sync.Once
}

// newS3Handle is the default HandleFactory.
func newS3Handle(lease *Lease, refresh RefreshFunc, refreshEvery time.Duration, log *slog.Logger) (BlobStore, error) {
	h := &s3Handle{
		bucket: lease.Bucket,
		log:    log,
		stop:   make(chan struct{}),
	}
	h.setLease(lease)

	region := lease.Region
	if region == "" {
		region = DefaultRegion
	}

	// Without a renewer the lease is fixed for the handle's lifetime, so a
	// plain static provider suffices.
	var provider aws.CredentialsProvider = credentials.NewStaticCredentialsProvider(
		lease.AccessKeyID, lease.AccessKeySecret, lease.SecurityToken)
	if refresh != nil {
		provider = aws.CredentialsProviderFunc(h.retrieve)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = region
			o.Credentials = provider
		},
	}
	if lease.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(lease.Endpoint)
			o.UsePathStyle = true
		})
	}

	h.client = s3.New(s3.Options{}, opts...)
	h.uploader = manager.NewUploader(h.client)
	h.presigner = s3.NewPresignClient(h.client)

	if refresh != nil && refreshEvery > 0 {
		go h.refreshLoop(refresh, refreshEvery)
	}

	return h, nil
}

// retrieve supplies the current lease credentials to the SDK. Every
// request signature picks up the latest renewed token.
func (h *s3Handle) retrieve(context.Context) (aws.Credentials, error) {
	return *h.creds.Load(), nil
}

// setLease swaps the credentials the handle signs with.
func (h *s3Handle) setLease(lease *Lease) {
	h.creds.Store(&aws.Credentials{
		AccessKeyID:     lease.AccessKeyID,
		SecretAccessKey: lease.AccessKeySecret,
		SessionToken:    lease.SecurityToken,
		CanExpire:       true,
		Expires:         lease.ExpiresAt,
	})
}

// refreshLoop renews the embedded token on a fixed interval until Close.
// A failed renewal is logged and retried on the next tick; the current
// token keeps being used until it actually expires.
func (h *s3Handle) refreshLoop(refresh RefreshFunc, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			lease, err := refresh(ctx)
			cancel()
			if err != nil {
				h.log.Warn("storage token renewal failed", slog.Any("error", err))
				continue
			}
			h.setLease(lease)
		}
	}
}

// Put implements BlobStore.
func (h *s3Handle) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*TransferResult, error) {
	out, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(h.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, wrapTransferError(err, ErrUploadFailed)
	}

	res := &TransferResult{}
	if out.ETag != nil {
		res.ETag = *out.ETag
	}
	if id, ok := awsmiddleware.GetRequestIDMetadata(out.ResultMetadata); ok {
		res.RequestID = id
	}
	return res, nil
}

// MultipartUpload implements BlobStore. Progress is measured from bytes
// consumed by the part reader, so it reflects actual transfer work rather
// than a simulation.
func (h *s3Handle) MultipartUpload(ctx context.Context, key string, body io.Reader, size int64, contentType string, onProgress func(fraction float64)) (*TransferResult, error) {
	r := body
	if onProgress != nil && size > 0 {
		r = &progressReader{r: body, total: size, report: onProgress}
	}

	out, err := h.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, wrapTransferError(err, ErrUploadFailed)
	}

	res := &TransferResult{}
	if out.ETag != nil {
		res.ETag = *out.ETag
	}
	return res, nil
}

// Presign implements BlobStore.
func (h *s3Handle) Presign(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := h.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = expires
	})
	if err != nil {
		return "", wrapTransferError(err, ErrPresignFailed)
	}
	return req.URL, nil
}

// Close implements BlobStore.
func (h *s3Handle) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// progressReader counts consumed bytes and reports cumulative fractional
// progress. Retried parts can re-read input, so the fraction is clamped
// to 1.
type progressReader struct {
	r      io.Reader
	total  int64
	read   atomic.Int64
	report func(fraction float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		read := p.read.Add(int64(n))
		f := float64(read) / float64(p.total)
		if f > 1 {
			f = 1
		}
		p.report(f)
	}
	return n, err
}
