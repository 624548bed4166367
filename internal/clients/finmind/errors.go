package finmind

import (
	"errors"
	"fmt"
)

// QuotaExceededError is returned when the provider answers HTTP 402. The
// batch executor branches on this type to fast-stop the whole run instead of
// burning retries per ticker.
type QuotaExceededError struct {
	Dataset string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("api quota exceeded for dataset %s", e.Dataset)
}

// IsQuotaExceeded reports whether err wraps a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var quotaErr *QuotaExceededError
	return errors.As(err, &quotaErr)
}
