package httpclient

import (
	"net/http"
	"time"

	"iris/internal/logging"
)

// New returns an http.Client configured for outbound requests.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(logger),
	}
}

// Transport returns a clone of the default transport honouring proxy
// environment variables.
func Transport(logger logging.Logger) *http.Transport {
	logger = logging.OrNop(logger)
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		logger.Warn("default transport is %T, building a fresh one", http.DefaultTransport)
		return &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	transport := base.Clone()
	transport.Proxy = http.ProxyFromEnvironment
	return transport
}
