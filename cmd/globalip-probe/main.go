// Command globalip-probe starts a globalip.Cache, sleeps for --timeout, and
// prints the source and global addresses the cache holds by then for both
// address families. It does not trigger a refresh itself: the cache's first
// upkeep cycle runs when its timers first fire, one upkeep interval (30
// minutes) after NewCache, so with a shorter --timeout both families print
// as unknown.
package main

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/generics"
	"github.com/anacrolix/log"

	"github.com/dannyzb/torrentcore/globalip"
)

type args struct {
	Bind4   string        `arg:"--bind4" help:"bind address to use for the IPv4 source-address probe"`
	Bind6   string        `arg:"--bind6" help:"bind address to use for the IPv6 source-address probe"`
	Timeout time.Duration `arg:"--timeout" default:"10s" help:"how long to wait for discovery before printing whatever was found"`
}

type mediator struct {
	timerMaker globalip.TimerMaker
	fetcher    globalip.HttpFetcher
	bind4      netip.Addr
	bind6      netip.Addr
}

func (m mediator) TimerMaker() globalip.TimerMaker   { return m.timerMaker }
func (m mediator) HttpFetcher() globalip.HttpFetcher { return m.fetcher }
func (m mediator) SettingsBindAddr(family globalip.Family) netip.Addr {
	if family == globalip.V6 {
		return m.bind6
	}
	return m.bind4
}

func main() {
	defer envpprof.Stop()

	var a args
	arg.MustParse(&a)

	med := mediator{
		timerMaker: globalip.NewRealTimerMaker(),
		fetcher:    globalip.DefaultHttpFetcher{},
	}
	if a.Bind4 != "" {
		med.bind4 = netip.MustParseAddr(a.Bind4)
	}
	if a.Bind6 != "" {
		med.bind6 = netip.MustParseAddr(a.Bind6)
	}

	cache := globalip.NewCache(med, log.Default)
	defer func() {
		for !cache.TryShutdown() {
			time.Sleep(10 * time.Millisecond)
		}
		cache.Close()
	}()

	time.Sleep(a.Timeout)

	for _, family := range []globalip.Family{globalip.V4, globalip.V6} {
		fmt.Fprintf(
			os.Stdout, "%s source=%s global=%s\n",
			family, formatAddr(cache.SourceAddr(family)), formatAddr(cache.GlobalAddr(family)),
		)
	}
}

func formatAddr(o generics.Option[netip.Addr]) string {
	if !o.Ok {
		return "unknown"
	}
	return o.Value.String()
}
