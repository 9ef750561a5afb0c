package errors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalid             = errors.New("invalid")
	ErrInternal            = errors.New("internal")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSourceUnavailable   = errors.New("source unavailable")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrNoCaptions          = errors.New("no captions available")
	ErrCaptionsDisabled    = errors.New("captions disabled")
	ErrEmbeddingDegraded   = errors.New("embedding degraded")
	ErrIndexNotReady       = errors.New("index not ready")
	ErrTimeout             = errors.New("timeout")
	ErrPrecondition        = errors.New("precondition not met")
	ErrAIUnavailable       = errors.New("ai unavailable")
	ErrFileTooLarge        = errors.New("file too large")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionNotFound)
}

// IsDegraded reports a non-fatal embedding fallback.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrEmbeddingDegraded)
}

func IsSourceUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}
