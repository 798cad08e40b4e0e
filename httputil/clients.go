package httputil

import (
	"net/http"
	"time"
)

// Clients bundles the two HTTP clients the daemon uses: one for provider API
// traffic (login/search/metadata) and a slower one for media downloads.
// Both carry hard timeouts so a stalled provider cannot wedge a run.
type Clients struct {
	Provider *http.Client
	Media    *http.Client
}

func NewClients(mediaTimeout time.Duration) *Clients {
	if mediaTimeout <= 0 {
		mediaTimeout = 60 * time.Second
	}

	return &Clients{
		Provider: &http.Client{Timeout: 30 * time.Second},
		Media: &http.Client{
			Timeout: mediaTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}
