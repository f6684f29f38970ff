// Package metrics holds the prometheus collectors shared by the token cache
// and the polling sources.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_token_refresh_total",
		Help: "Number of auth token refresh attempts, by result",
	}, []string{"result"})
	PollFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_poll_fetch_total",
		Help: "Number of polling fetches, by polled entity kind and result",
	}, []string{"kind", "result"})
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{TokenRefreshTotal, PollFetchTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
