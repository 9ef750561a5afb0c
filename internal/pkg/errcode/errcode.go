package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrInternal
	ErrInvalidFile
	ErrUploadFailed
	ErrAIUnavailable
	ErrSessionNotFound
	ErrSourceUnavailable
	ErrTranscriptionFailed
	ErrIndexNotReady
	ErrTimeout
	ErrPrecondition
	ErrFileTooLarge
)
