package types

import "errors"

// Sentinel errors collaborators wrap so processors can classify failures.
var (
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrExtraction          = errors.New("no readable content")
	ErrNoQRCode            = errors.New("no QR code found")
	ErrProviderUnavailable = errors.New("AI provider unavailable")
	ErrDeviceUnavailable   = errors.New("device unavailable")
	ErrUploadRejected      = errors.New("upload rejected")
)
