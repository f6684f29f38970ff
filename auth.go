package fleet

import (
	"net/http"

	"github.com/twisp/fleet-go/token"
)

// NewRoundTripper authorizes every request with the cached token for
// vehicleID. A nil wrapped transport means http.DefaultTransport.
func NewRoundTripper(cache *token.Cache, vehicleID string, wrapped http.RoundTripper) http.RoundTripper {
	if wrapped == nil {
		wrapped = http.DefaultTransport
	}
	return &roundTripper{
		cache:     cache,
		vehicleID: vehicleID,
		wrapped:   wrapped,
	}
}

type roundTripper struct {
	cache     *token.Cache
	vehicleID string

	wrapped http.RoundTripper
}

func (r *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	jwt := r.cache.Token(req.Context(), r.vehicleID)
	if jwt == "" {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, ErrNoToken
	}

	// RoundTrippers must not modify the caller's request.
	authorized := req.Clone(req.Context())
	authorized.Header.Set("Authorization", "Bearer "+jwt)

	return r.wrapped.RoundTrip(authorized)
}
