package usecase

import "errors"

var (
	// ErrMissingFile is returned when the request carries no image payload.
	ErrMissingFile = errors.New("no file uploaded")
	// ErrUnauthorized is returned when history is requested without a caller identifier.
	ErrUnauthorized = errors.New("User-Uid header is required")
	// ErrStorage marks failures writing the image or the analysis record.
	ErrStorage = errors.New("storage failure")
)
