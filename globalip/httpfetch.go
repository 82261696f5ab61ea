package globalip

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dannyzb/torrentcore/version"
)

// fetchBufferSize bounds how much of an IP-query service's response body
// we'll read: these responses are a bare IP address, a few dozen bytes at
// most, but a misbehaving or malicious endpoint shouldn't be able to make
// us buffer an unbounded reply. Grounded on FetchOptions::sndbuf/rcvbuf
// (4096 bytes each) from global-ip-cache.cc's update_global_addr.
const fetchBufferSize = 4096

// DefaultHttpFetcher is the net/http-based HttpFetcher used outside of
// tests: it dials using family's network so the query actually exercises
// that address family's route, independent of whatever the default
// transport would otherwise pick.
type DefaultHttpFetcher struct {
	UserAgent string
}

func (f DefaultHttpFetcher) Fetch(ctx context.Context, family Family, url string) (int, []byte, error) {
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	network := "tcp4"
	if family == V6 {
		network = "tcp6"
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _ string, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	userAgent := f.UserAgent
	if userAgent == "" {
		userAgent = version.DefaultHttpUserAgent
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBufferSize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
