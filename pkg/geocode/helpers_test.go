package geocode

import (
	"net/http"
	"net/url"
)

// rewriteTransport redirects every request to the test server regardless of
// the host the client was built with.
type rewriteTransport struct {
	base *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.base.Scheme
	req.URL.Host = rt.base.Host
	return http.DefaultTransport.RoundTrip(req)
}

func rewriteClient(rawURL string) *http.Client {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return &http.Client{Transport: rewriteTransport{base: u}}
}
