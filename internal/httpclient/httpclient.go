package httpclient

import (
	"net/http"
	"time"

	"smmswarm/internal/logging"
)

// New returns an http.Client for calls to model backends. The timeout
// bounds each individual attempt; retries are the caller's concern.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(logger),
	}
}

// Transport clones the default transport and logs every round trip at debug.
func Transport(logger logging.Logger) http.RoundTripper {
	var base *http.Transport
	if dt, ok := http.DefaultTransport.(*http.Transport); ok {
		base = dt.Clone()
	} else {
		base = &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	return &loggingRoundTripper{base: base, logger: logging.OrNop(logger)}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		t.logger.Debug("%s %s failed after %v: %v", req.Method, req.URL.Redacted(), elapsed, err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %v", req.Method, req.URL.Redacted(), resp.StatusCode, elapsed)
	return resp, nil
}
