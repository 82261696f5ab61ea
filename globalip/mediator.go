package globalip

import (
	"context"
	"net/netip"
	"time"
)

// Timer is a restartable, interval-settable one-shot/repeating timer, the
// Go analogue of libtransmission's tr_timer. Cache owns one per address
// family to drive periodic upkeep.
type Timer interface {
	// SetCallback installs the function to run when the timer fires. Must
	// be called before the timer is started.
	SetCallback(f func())

	// SetInterval (re)arms the timer to fire every d, replacing any
	// previous interval.
	SetInterval(d time.Duration)

	// Stop halts the timer. Safe to call on an already-stopped timer.
	Stop()
}

// TimerMaker constructs Timers. Sessions provide a real implementation
// backed by their own event loop; tests provide a fake driven by hand.
type TimerMaker interface {
	Create() Timer
}

// HttpFetcher performs the IP-query-service HTTP GET used to confirm this
// host's internet-visible global address. Mediator.HttpFetcher supplies the
// one a Cache uses; each Fetch is constrained to a single address family.
type HttpFetcher interface {
	// Fetch issues a GET to url, constrained to use family's address
	// family for the outgoing connection, and returns the HTTP status
	// code and response body. A non-2xx status is not an error by itself
	// — callers check StatusCode.
	Fetch(ctx context.Context, family Family, url string) (statusCode int, body []byte, err error)
}

// Mediator is Cache's window onto the rest of the session: where to get
// timers, what address the user configured to bind to, and how to issue
// the IP-query HTTP fetch. Grounded on tr_global_ip_cache::Mediator.
type Mediator interface {
	TimerMaker() TimerMaker
	HttpFetcher() HttpFetcher

	// SettingsBindAddr returns the user-configured bind address for
	// family, or the zero netip.Addr if none is configured.
	SettingsBindAddr(family Family) netip.Addr
}
