package fleet

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoToken is returned by the bearer transport when no token is available.
var ErrNoToken = errors.New("no auth token available")

// HTTPError is a non-2xx response from the provider.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s got response %d %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}
