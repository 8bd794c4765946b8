package exchange

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCredentialsMissing is returned by private calls when no API key/secret
// is loaded. There is no retry: retrying cannot fix a missing secret.
var ErrCredentialsMissing = errors.New("exchange: api credentials not loaded")

// ErrSignatureMismatch is returned when the server's response
// counter-signature does not match the locally computed one after the retry
// budget is exhausted. It is never silently accepted.
var ErrSignatureMismatch = errors.New("exchange: server response signature mismatch")

// BadResponseError is a non-200 reply from the exchange after the retry
// budget is exhausted. It carries the last observed status code.
type BadResponseError struct {
	StatusCode int
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("exchange: server returned bad response (status %d)", e.StatusCode)
}

// APIError is a business-rule failure the exchange returned in an otherwise
// well-formed reply (insufficient funds, unknown order id, parameter
// validation). It is local to the attempted action and never aborts a tick.
type APIError struct {
	Reason string
}

func (e *APIError) Error() string {
	return "exchange: " + e.Reason
}
