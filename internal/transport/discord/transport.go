package discord

import "net/http"

// headerTransport feeds every REST response's rate-limit headers to the
// limiter.
type headerTransport struct {
	base http.RoundTripper
	lim  Limiter
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err == nil && resp != nil && t.lim != nil {
		t.lim.UpdateFromResponse(resp.Header)
	}
	return resp, err
}
