package errdefs

type ErrorType int

const (
	ErrTypeStoreUnavailable ErrorType = iota
	ErrTypeIndexingFailed
	ErrTypeSearchFailed
	ErrTypeWatcherFailed
	ErrTypeSyncFailed
	ErrTypeCacheFailed
	ErrTypeInvalidConfig
	ErrTypeFileAccessDenied
)

type CustomError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CustomError) Unwrap() error {
	return e.Err
}

func NewCustomError(errType ErrorType, message string, err error) error {
	return &CustomError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// IsStructural reports whether err belongs to the one error class callers
// must never swallow: the backing store being unavailable or corrupted.
func IsStructural(err error) bool {
	ce, ok := err.(*CustomError)
	return ok && ce.Type == ErrTypeStoreUnavailable
}

var (
	ErrStoreUnavailable = &CustomError{Type: ErrTypeStoreUnavailable, Message: "store unavailable"}
	ErrIndexingFailed   = &CustomError{Type: ErrTypeIndexingFailed, Message: "indexing failed"}
	ErrSearchFailed     = &CustomError{Type: ErrTypeSearchFailed, Message: "search failed"}
	ErrWatcherFailed    = &CustomError{Type: ErrTypeWatcherFailed, Message: "watcher failed"}
	ErrSyncFailed       = &CustomError{Type: ErrTypeSyncFailed, Message: "sync failed"}
	ErrCacheFailed      = &CustomError{Type: ErrTypeCacheFailed, Message: "cache failed"}
	ErrInvalidConfig    = &CustomError{Type: ErrTypeInvalidConfig, Message: "invalid config"}
	ErrFileAccessDenied = &CustomError{Type: ErrTypeFileAccessDenied, Message: "file access denied"}
)
