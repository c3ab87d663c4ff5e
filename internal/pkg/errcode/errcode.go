package errcode

const (
	ErrNotFound = 10000001 + iota
	ErrInvalid
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrUploadFailed
	ErrAIUnavailable
	ErrDimension
	ErrMalformedCatalog
)
