package errors

// IsRetryable reports whether err is transient: a RelayError marked
// retryable, or anything wrapping ErrTimeout. Cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || Is(err, ErrCanceled) {
		return false
	}
	if re, ok := asRelay(err); ok {
		return re.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether err's message may be shown to a client.
func IsUserFacing(err error) bool {
	re, ok := asRelay(err)
	return ok && re.IsUserFacing()
}

// GetSeverity returns err's severity, SeverityError for foreign errors and
// SeverityDebug for nil.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	if re, ok := asRelay(err); ok {
		return re.Severity()
	}
	return SeverityError
}

func asRelay(err error) (RelayError, bool) {
	var re RelayError
	if err == nil || !As(err, &re) {
		return nil, false
	}
	return re, true
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return As(err, &ve)
}

func isA[T error](err error) bool {
	var target T
	return As(err, &target)
}

// classes is checked in order; the first match names the class.
var classes = []struct {
	name  string
	match func(error) bool
}{
	{"validation", isA[*ValidationError]},
	{"timeout", func(err error) bool { return isA[*TimeoutError](err) || Is(err, ErrTimeout) }},
	{"canceled", func(err error) bool { return Is(err, ErrCanceled) }},
	{"worker", isA[*WorkerError]},
	{"aggregation", isA[*AggregationError]},
	{"streaming", isA[*StreamingError]},
	{"checkpoint", isA[*CheckpointError]},
	{"not_found", isA[*NotFoundError]},
}

// Class names err's class for turn logs and client error events: one of
// the names in classes, "internal" for anything else, "" for nil.
func Class(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range classes {
		if c.match(err) {
			return c.name
		}
	}
	return "internal"
}
