package observability

import (
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

var tracePropagationTargets = []string{
	"api.stripe.com",
}

// WrapRoundTripper instruments a transport with Sentry tracing. Extra
// targets cover deployment-specific hosts such as the commerce backend.
func WrapRoundTripper(base http.RoundTripper, extraTargets ...string) http.RoundTripper {
	targets := append([]string{}, tracePropagationTargets...)
	targets = append(targets, extraTargets...)
	return sentryhttpclient.NewSentryRoundTripper(
		base,
		sentryhttpclient.WithTracePropagationTargets(targets),
	)
}

func NewHTTPClient(timeout time.Duration, extraTargets ...string) *http.Client {
	client := &http.Client{
		Transport: WrapRoundTripper(http.DefaultTransport, extraTargets...),
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}
