package analysis

import "errors"

// ErrInvalidImage marks uncompressible or malformed image input. Fatal, no retry.
var ErrInvalidImage = errors.New("invalid image")

// ErrInvalidInput marks a request that carries neither an image nor a prompt, or both.
var ErrInvalidInput = errors.New("invalid analysis input")

// InvalidImageError wraps the decoder/encoder failure behind ErrInvalidImage.
type InvalidImageError struct {
	Cause error
}

func (e *InvalidImageError) Error() string {
	if e.Cause == nil {
		return ErrInvalidImage.Error()
	}
	return ErrInvalidImage.Error() + ": " + e.Cause.Error()
}

func (e *InvalidImageError) Unwrap() []error { return []error{ErrInvalidImage, e.Cause} }
