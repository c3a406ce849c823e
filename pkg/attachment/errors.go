package attachment

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Sentinel errors for the upload pipeline.
var (
	// Input errors. Surfaced before any network activity.
	ErrNoFile         = errors.New("attachment: no file provided")
	ErrFileTooLarge   = errors.New("attachment: file exceeds size limit")
	ErrTypeNotAllowed = errors.New("attachment: file type not allowed")
	ErrEmptyKey       = errors.New("attachment: generated object key is empty")

	// Configuration errors. The broker resets so a later call can retry.
	ErrInvalidCredentials = errors.New("attachment: credential payload is missing required fields")

	// Transfer errors. Propagated with the underlying cause, never retried here.
	ErrUploadFailed  = errors.New("attachment: upload failed")
	ErrPresignFailed = errors.New("attachment: presign failed")
	ErrAccessDenied  = errors.New("attachment: access denied")
)

// wrapTransferError maps storage API failures onto package sentinels so
// callers can branch with errors.Is without importing AWS types.
func wrapTransferError(err error, fallback error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "ExpiredToken", "InvalidAccessKeyId":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
