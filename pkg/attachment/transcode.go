package attachment

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"

	// Registered for decode support; GIF and WebP inputs are re-encoded
	// to JPEG on the way out.
	_ "image/gif"

	_ "golang.org/x/image/webp"
)

// Default compression parameters, applied when the caller passes a zero
// CompressOptions.
const (
	DefaultMaxWidth  = 1920
	DefaultMaxHeight = 1920
	DefaultQuality   = 0.8
)

// CompressOptions tunes image recompression. MaxWidth and MaxHeight bound
// the output dimensions under a uniform scale (images are never upscaled).
// Quality is in (0, 1]. MIMEType overrides the output format; by default
// PNG and JPEG keep their format and everything else becomes JPEG.
type CompressOptions struct {
	MaxWidth  int
	MaxHeight int
	Quality   float64
	MIMEType  string
}

func (o CompressOptions) withDefaults() CompressOptions {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	return o
}

// Transcoder optionally recompresses an image payload before upload.
// Implementations must be safe for concurrent use.
type Transcoder interface {
	// Transcode returns the recompressed payload and its MIME type. An
	// error tells the caller to keep the original payload; compression is
	// best-effort and never fatal to an upload.
	Transcode(blob []byte, mime string, opts CompressOptions) ([]byte, string, error)
}

// NewTranscoder returns the image transcoder used by default.
func NewTranscoder() Transcoder {
	return &imageTranscoder{}
}

// NewNoopTranscoder returns a passthrough for environments where image
// decoding is unwanted; every input is returned unchanged by the caller's
// fallback path.
func NewNoopTranscoder() Transcoder {
	return noopTranscoder{}
}

var errTranscodeUnsupported = errors.New("attachment: transcode not supported for input")

type noopTranscoder struct{}

func (noopTranscoder) Transcode([]byte, string, CompressOptions) ([]byte, string, error) {
	return nil, "", errTranscodeUnsupported
}

// imageTranscoder downscales and re-encodes images in memory.
type imageTranscoder struct{}

// Transcode implements Transcoder.
func (imageTranscoder) Transcode(blob []byte, mime string, opts CompressOptions) ([]byte, string, error) {
	if !isImageMIME(mime) {
		return nil, "", errTranscodeUnsupported
	}
	o := opts.withDefaults()

	src, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, "", err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, "", errTranscodeUnsupported
	}

	ratio := math.Min(math.Min(
		float64(o.MaxWidth)/float64(w),
		float64(o.MaxHeight)/float64(h),
	), 1) // only shrink, never upscale

	tw := int(math.Round(float64(w) * ratio))
	th := int(math.Round(float64(h) * ratio))

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	target := targetMIME(mime, o.MIMEType)

	var buf bytes.Buffer
	switch target {
	case "image/png":
		err = png.Encode(&buf, dst)
	default:
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: int(o.Quality * 100)})
	}
	if err != nil {
		return nil, "", err
	}

	return buf.Bytes(), target, nil
}

// targetMIME picks the output format: an explicit override wins, PNG and
// JPEG are preserved, everything else normalizes to JPEG.
func targetMIME(origin, override string) string {
	if override != "" {
		return override
	}
	switch origin {
	case "image/png", "image/jpeg", "image/jpg":
		if origin == "image/jpg" {
			return "image/jpeg"
		}
		return origin
	default:
		return "image/jpeg"
	}
}
