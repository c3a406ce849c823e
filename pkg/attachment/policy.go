package attachment

import (
	"fmt"
	"strings"
)

// MaxFileSize is the hard ceiling for a single attachment.
const MaxFileSize = 600 << 20 // 600 MiB

// allowedExtensions lists the extensions accepted for upload. It mirrors
// the accept list shown to users in the file picker.
var allowedExtensions = newSet(
	// images
	"png", "jpg", "jpeg", "gif", "heic", "heif", "webp",
	// documents
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "txt", "csv",
	// audio
	"mp3", "wav", "aac", "m4a", "flac", "oga", "opus", "amr",
	// video
	"mp4", "mov", "webm", "avi", "mkv", "m4v", "mpeg", "mpg", "ogg",
)

// blockedExtensions lists high-risk extensions (executables, archives,
// scripts, markup capable of active content). Blocking takes precedence
// over the allow list.
var blockedExtensions = newSet(
	"exe", "bat", "cmd", "sh", "js", "msi", "apk", "dmg", "pkg", "iso",
	"bin", "com", "dll", "scr", "jar", "ps1", "vbs",
	"7z", "zip", "rar", "gz", "tar", "bz2", "xz",
	"ipa", "deb", "rpm",
	"svg", "html", "htm", "php", "py",
)

// allowedMIMETypes complements the extension check. Extension and MIME are
// validated independently so a mismatched pair is still caught.
var allowedMIMETypes = newSet(
	"image/png", "image/jpeg", "image/gif", "image/webp", "image/heic", "image/heif",
	"application/pdf", "text/plain", "text/csv",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"audio/mpeg", "audio/wav", "audio/aac", "audio/mp4", "audio/x-m4a",
	"audio/flac", "audio/ogg", "audio/webm", "audio/3gpp", "audio/amr",
	"video/mp4", "video/quicktime", "video/webm", "video/x-msvideo",
	"video/x-matroska", "video/mpeg", "video/x-m4v", "video/ogg",
)

func newSet(items ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// ValidateMeta checks file metadata against the attachment policy. It is a
// pure function with no side effects. The mime argument may be empty, in
// which case only the extension is checked.
//
// Callers that transform the payload (e.g. image recompression) must
// re-check the resulting size against MaxFileSize afterwards.
func ValidateMeta(filename, mime string, size int64) error {
	if size > MaxFileSize {
		return fmt.Errorf("%w: %d bytes over %d limit", ErrFileTooLarge, size, int64(MaxFileSize))
	}

	ext := extOf(filename)
	if ext == "" {
		return fmt.Errorf("%w: missing file extension", ErrTypeNotAllowed)
	}
	if _, blocked := blockedExtensions[ext]; blocked {
		return fmt.Errorf("%w: extension %q is blocked", ErrTypeNotAllowed, ext)
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: extension %q", ErrTypeNotAllowed, ext)
	}

	if mime != "" {
		if _, ok := allowedMIMETypes[mime]; !ok {
			return fmt.Errorf("%w: mime %q", ErrTypeNotAllowed, mime)
		}
	}

	return nil
}

// extOf returns the lower-cased substring after the last dot, or "" when
// the name has no extension.
func extOf(filename string) string {
	lower := strings.ToLower(filename)
	i := strings.LastIndexByte(lower, '.')
	if i < 0 || i == len(lower)-1 {
		return ""
	}
	return lower[i+1:]
}

// isImageMIME reports whether the MIME type belongs to an image.
func isImageMIME(mime string) bool {
	return strings.HasPrefix(strings.ToLower(mime), "image/")
}
