package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// uploaderFixture wires an Uploader to a single fake blob store behind a
// real broker.
func uploaderFixture(t *testing.T, opts ...UploaderOption) (*Uploader, *fakeBlobStore, *countingSource) {
	t.Helper()

	store := &fakeBlobStore{etag: "\"abc123\"", requestID: "req-42"}
	source := &countingSource{}
	broker := NewBroker(source, WithHandleFactory(
		func(*Lease, RefreshFunc, time.Duration, *slog.Logger) (BlobStore, error) {
			return store, nil
		},
	))

	up := NewUploader(broker, opts...)
	up.simInterval = time.Millisecond
	return up, store, source
}

func TestUpload_SmallTextFileEndToEnd(t *testing.T) {
	t.Parallel()

	up, store, _ := uploaderFixture(t)

	var (
		mu       sync.Mutex
		progress []int
	)
	res, err := up.Upload(context.Background(), bytes.Repeat([]byte("a"), 2<<10),
		"My Report.txt", "text/plain",
		WithProgress(func(p int) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	// Key layout: {namespace}/{default prefix}/{year}/{MM}/{uuid}.txt
	require.Regexp(t, `^im-biz/uploads/\d{4}/\d{2}/[0-9a-f-]{36}\.txt$`, res.Key)

	// Below the 5 MiB threshold the single-put path is used.
	require.Len(t, store.putKeys, 1)
	require.Empty(t, store.multiKeys)
	require.Equal(t, res.Key, store.putKeys[0])

	require.Equal(t, "text/plain", res.MIME)
	require.Equal(t, int64(2<<10), res.Size)
	require.Equal(t, "\"abc123\"", res.ETag)
	require.Equal(t, "req-42", res.RequestID)
	require.Contains(t, res.SignedURL, res.Key)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	require.Equal(t, simProgressStart, progress[0])
	require.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		require.GreaterOrEqual(t, progress[i], progress[i-1], "progress must not decrease")
	}
}

func TestUpload_LargePayloadUsesMultipart(t *testing.T) {
	t.Parallel()

	up, store, _ := uploaderFixture(t)
	store.fractions = []float64{0.1, 0.25, 0.25, 0.6, 0.59, 1}

	var progress []int
	res, err := up.Upload(context.Background(), bytes.Repeat([]byte("v"), 6<<20),
		"clip.mp4", "video/mp4",
		WithProgress(func(p int) { progress = append(progress, p) }),
	)
	require.NoError(t, err)

	require.Len(t, store.multiKeys, 1)
	require.Empty(t, store.putKeys)
	require.Equal(t, res.Key, store.multiKeys[0])

	require.NotEmpty(t, progress)
	require.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		require.Greater(t, progress[i], progress[i-1], "duplicate and regressing fractions are dropped")
	}
}

func TestUpload_StrategySelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		size          int
		opts          []UploadOption
		wantMultipart bool
	}{
		{name: "below threshold puts", size: 1 << 10, wantMultipart: false},
		{name: "at threshold goes multipart", size: DefaultSizeThreshold, wantMultipart: true},
		{name: "force multipart wins for small payloads", size: 1 << 10, opts: []UploadOption{ForceMultipart()}, wantMultipart: true},
		{name: "force put wins for large payloads", size: 6 << 20, opts: []UploadOption{ForcePut()}, wantMultipart: false},
		{name: "custom threshold", size: 2 << 10, opts: []UploadOption{WithSizeThreshold(1 << 10)}, wantMultipart: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			up, store, _ := uploaderFixture(t)

			_, err := up.Upload(context.Background(), bytes.Repeat([]byte("x"), tt.size),
				"file.txt", "text/plain", tt.opts...)
			require.NoError(t, err)

			if tt.wantMultipart {
				require.Len(t, store.multiKeys, 1)
				require.Empty(t, store.putKeys)
			} else {
				require.Len(t, store.putKeys, 1)
				require.Empty(t, store.multiKeys)
			}
		})
	}
}

func TestUpload_InputErrorsFailBeforeNetwork(t *testing.T) {
	t.Parallel()

	t.Run("nil blob", func(t *testing.T) {
		t.Parallel()
		up, _, source := uploaderFixture(t)
		_, err := up.Upload(context.Background(), nil, "a.txt", "text/plain")
		require.ErrorIs(t, err, ErrNoFile)
		require.Zero(t, source.fetches.Load())
	})

	t.Run("blocked type", func(t *testing.T) {
		t.Parallel()
		up, _, source := uploaderFixture(t)
		_, err := up.Upload(context.Background(), []byte("x"), "malware.exe", "")
		require.ErrorIs(t, err, ErrTypeNotAllowed)
		require.Zero(t, source.fetches.Load())
	})

	t.Run("empty key from custom builder", func(t *testing.T) {
		t.Parallel()
		up, _, source := uploaderFixture(t)
		_, err := up.Upload(context.Background(), []byte("x"), "a.txt", "text/plain",
			WithKeyBuilder(func(KeyContext) string { return "  " }))
		require.ErrorIs(t, err, ErrEmptyKey)
		require.Zero(t, source.fetches.Load())
	})
}

func TestUpload_FilenameNormalizationFlowsIntoKey(t *testing.T) {
	t.Parallel()

	up, _, _ := uploaderFixture(t)

	var seen KeyContext
	_, err := up.Upload(context.Background(), []byte("x"), "  Meeting Notes (final).docx ", "",
		WithKeyBuilder(func(ctx KeyContext) string {
			seen = ctx
			return "custom/" + ctx.UUID + "." + ctx.Ext
		}))
	require.NoError(t, err)
	require.Equal(t, "Meeting_Notes_final.docx", seen.Filename)
	require.Equal(t, "docx", seen.Ext)
	require.Equal(t, "application/octet-stream", seen.MIME)
}

func TestUpload_CustomKeyBuilderTakesPrecedenceAndIsNamespaced(t *testing.T) {
	t.Parallel()

	up, store, _ := uploaderFixture(t)

	res, err := up.Upload(context.Background(), []byte("x"), "a.txt", "text/plain",
		WithPrefix("ignored"),
		WithKeyBuilder(func(ctx KeyContext) string { return "/custom/path/" + ctx.UUID + ".txt" }))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.Key, "im-biz/custom/path/"))
	require.Equal(t, res.Key, store.putKeys[0])
}

func TestUpload_PrefixFlowsIntoDefaultKey(t *testing.T) {
	t.Parallel()

	up, _, _ := uploaderFixture(t)

	res, err := up.Upload(context.Background(), []byte("x"), "a.txt", "text/plain",
		WithPrefix("/chat/"))
	require.NoError(t, err)
	require.Regexp(t, `^im-biz/chat/\d{4}/\d{2}/[0-9a-f-]{36}\.txt$`, res.Key)
}

func TestUpload_TransferErrorPropagates(t *testing.T) {
	t.Parallel()

	up, store, _ := uploaderFixture(t)
	store.putErr = fmt.Errorf("%w: connection reset", ErrUploadFailed)

	_, err := up.Upload(context.Background(), []byte("x"), "a.txt", "text/plain")
	require.ErrorIs(t, err, ErrUploadFailed)
}

func TestUpload_SigningFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	up, store, _ := uploaderFixture(t)
	store.presignErr = errors.New("presign broke")

	res, err := up.Upload(context.Background(), []byte("x"), "a.txt", "text/plain")
	require.NoError(t, err, "upload succeeds without a signed url")
	require.Empty(t, res.SignedURL)
	require.NotEmpty(t, res.Key)
}

func TestUpload_WithoutSignedURL(t *testing.T) {
	t.Parallel()

	up, store, _ := uploaderFixture(t)
	store.presignErr = errors.New("must not be called")

	res, err := up.Upload(context.Background(), []byte("x"), "a.txt", "text/plain",
		WithoutSignedURL())
	require.NoError(t, err)
	require.Empty(t, res.SignedURL)
}

// shrinkingTranscoder halves the payload and normalizes to jpeg,
// simulating a successful recompression.
type shrinkingTranscoder struct{ calls int }

func (s *shrinkingTranscoder) Transcode(blob []byte, _ string, _ CompressOptions) ([]byte, string, error) {
	s.calls++
	return blob[:len(blob)/2], "image/jpeg", nil
}

type failingTranscoder struct{}

func (failingTranscoder) Transcode([]byte, string, CompressOptions) ([]byte, string, error) {
	return nil, "", errors.New("decode failed")
}

func TestUpload_ImageCompression(t *testing.T) {
	t.Parallel()

	t.Run("applies to images by default", func(t *testing.T) {
		t.Parallel()
		tc := &shrinkingTranscoder{}
		up, _, _ := uploaderFixture(t, WithTranscoder(tc))

		res, err := up.Upload(context.Background(), bytes.Repeat([]byte("p"), 1000), "pic.png", "image/png")
		require.NoError(t, err)
		require.Equal(t, 1, tc.calls)
		require.Equal(t, int64(500), res.Size)
		require.Equal(t, "image/jpeg", res.MIME)
	})

	t.Run("skipped for non-images", func(t *testing.T) {
		t.Parallel()
		tc := &shrinkingTranscoder{}
		up, _, _ := uploaderFixture(t, WithTranscoder(tc))

		res, err := up.Upload(context.Background(), bytes.Repeat([]byte("d"), 1000), "doc.pdf", "application/pdf")
		require.NoError(t, err)
		require.Zero(t, tc.calls)
		require.Equal(t, int64(1000), res.Size)
	})

	t.Run("disabled per call", func(t *testing.T) {
		t.Parallel()
		tc := &shrinkingTranscoder{}
		up, _, _ := uploaderFixture(t, WithTranscoder(tc))

		res, err := up.Upload(context.Background(), bytes.Repeat([]byte("p"), 1000), "pic.png", "image/png",
			WithoutCompression())
		require.NoError(t, err)
		require.Zero(t, tc.calls)
		require.Equal(t, int64(1000), res.Size)
	})

	t.Run("failure falls back to the original payload", func(t *testing.T) {
		t.Parallel()
		up, _, _ := uploaderFixture(t, WithTranscoder(failingTranscoder{}))

		res, err := up.Upload(context.Background(), bytes.Repeat([]byte("p"), 1000), "pic.png", "image/png")
		require.NoError(t, err, "compression is best-effort, never fatal")
		require.Equal(t, int64(1000), res.Size)
		require.Equal(t, "image/png", res.MIME)
	})
}

func TestUpload_ConcurrentUploadsShareOneFetch(t *testing.T) {
	t.Parallel()

	up, store, source := uploaderFixture(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = up.Upload(context.Background(), []byte("x"), "a.txt", "text/plain")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), source.fetches.Load())
	require.Len(t, store.putKeys, n)
}

func TestUpload_DistinctKeysForIdenticalContent(t *testing.T) {
	t.Parallel()

	up, _, _ := uploaderFixture(t)
	data := []byte("same bytes")

	a, err := up.Upload(context.Background(), data, "a.txt", "text/plain")
	require.NoError(t, err)
	b, err := up.Upload(context.Background(), data, "a.txt", "text/plain")
	require.NoError(t, err)

	require.NotEqual(t, a.Key, b.Key, "keys are uuid-unique per upload")
}
