package distance

import (
	"errors"
	"net/http"
	"time"
)

const (
	defaultORSBaseURL = "https://api.openrouteservice.org"
	defaultORSProfile = "driving-car"
	// Per-request element limit (sources x destinations) of the public plan.
	defaultORSMaxElements = 3500
)

// ORSClient talks to OpenRouteService. It implements ports.Geocoder through
// /geocode/search and ports.DistanceMatrixProvider through /v2/matrix.
//
// Rate limiting, upstream 5xx and network failures are retried with doubling
// backoff; a Retry-After header can stretch the wait. The client holds
// no cache; GeocodeResolver owns caching. It is safe for concurrent use.
type ORSClient struct {
	session      *http.Client
	apiKey       string
	baseURL      string
	profile      string
	country      string
	maxElements  int
	retry        retryPolicy
}

type ORSOption func(*ORSClient)

// WithBaseURL points the client at another ORS deployment, or a test server.
func WithBaseURL(u string) ORSOption { return func(o *ORSClient) { o.baseURL = u } }

func WithProfile(p string) ORSOption { return func(o *ORSClient) { o.profile = p } }

// WithCountry restricts geocoding to an ISO country code. Empty disables it.
func WithCountry(c string) ORSOption { return func(o *ORSClient) { o.country = c } }

func WithMaxElements(n int) ORSOption { return func(o *ORSClient) { o.maxElements = n } }

// WithRetry sets the attempt count and the first backoff of every call.
// Later waits double, up to eight times the first.
func WithRetry(attempts int, backoff time.Duration) ORSOption {
	return func(o *ORSClient) {
		o.retry = retryPolicy{attempts: attempts, backoff: backoff, ceiling: 8 * backoff}
	}
}

func NewORSClient(apiKey string, opts ...ORSOption) (*ORSClient, error) {
	if apiKey == "" {
		return nil, errors.New("ORS api key is empty")
	}

	client := &ORSClient{
		session:      &http.Client{Timeout: 10 * time.Second},
		apiKey:       apiKey,
		baseURL:      defaultORSBaseURL,
		profile:      defaultORSProfile,
		country:      "US",
		maxElements:  defaultORSMaxElements,
		retry:        retryPolicy{attempts: 4, backoff: 200 * time.Millisecond, ceiling: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.maxElements <= 0 {
		client.maxElements = defaultORSMaxElements
	}
	if client.retry.attempts <= 0 {
		client.retry.attempts = 1
	}

	return client, nil
}
