// Command bandwidth-sim drives bandwidth.Node through a number of simulated
// allocate() ticks with a fixed set of synthetic peers, printing each peer's
// cumulative bytes consumed after every tick. Useful for eyeballing the phase-one
// fairness and soft-cap clamp behavior without wiring up real connections.
package main

import (
	"fmt"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/dustin/go-humanize"

	"github.com/dannyzb/torrentcore/bandwidth"
	"github.com/dannyzb/torrentcore/common"
)

type args struct {
	Peers      int           `arg:"--peers" default:"4" help:"number of synthetic peers to simulate"`
	Ticks      int           `arg:"--ticks" default:"10" help:"number of allocate() ticks to run"`
	TickPeriod time.Duration `arg:"--tick-period" default:"1s"`
	DownBps    int64         `arg:"--down-bps" default:"1000000" help:"root node's desired download rate in bytes/sec"`
	UpBps      int64         `arg:"--up-bps" default:"250000" help:"root node's desired upload rate in bytes/sec"`
}

// simPeer is a synthetic PeerIO with an unbounded appetite: each Flush takes
// as many of the offered bytes as its node's Clamp allows and reports them
// as consumed piece data.
type simPeer struct {
	name      string
	node      *bandwidth.Node
	priority  common.Priority
	consumed  [common.NumDirections]int64
	lastFlush [common.NumDirections]int
}

func (p *simPeer) Flush(dir common.Direction, maxBytes int) int {
	n := int(p.node.Clamp(0, dir, int64(maxBytes)))
	p.node.NotifyConsumed(dir, int64(n), true, 0)
	p.consumed[dir] += int64(n)
	p.lastFlush[dir] = n
	return n
}

func (p *simPeer) FlushOutgoingProtocolMsgs() {}

func (p *simPeer) SetPriority(pr common.Priority) { p.priority = pr }
func (p *simPeer) Priority() common.Priority      { return p.priority }

func (p *simPeer) SetEnabled(common.Direction, bool) {}

func (p *simPeer) HasBandwidthLeft(common.Direction) bool { return true }

func main() {
	defer envpprof.Stop()

	var a args
	arg.MustParse(&a)

	root := bandwidth.NewNode()
	root.SetLimits(bandwidth.Limits{
		UpBps: a.UpBps, UpLimited: true,
		DownBps: a.DownBps, DownLimited: true,
	})

	peers := make([]*simPeer, a.Peers)
	for i := range peers {
		p := &simPeer{name: fmt.Sprintf("peer-%d", i)}
		node := bandwidth.NewNode()
		p.node = node
		node.SetPeer(p)
		node.SetHonorParentLimits(common.Up, true)
		node.SetHonorParentLimits(common.Down, true)
		node.SetParent(root)
		if i == 0 {
			node.SetPriority(common.PriorityHigh)
		}
		peers[i] = p
	}

	periodMs := a.TickPeriod.Milliseconds()
	for tick := 0; tick < a.Ticks; tick++ {
		root.Allocate(periodMs)

		fmt.Printf("tick %d:\n", tick)
		for _, p := range peers {
			fmt.Printf(
				"  %-10s priority=%-6s up=%s down=%s\n",
				p.name, p.priority,
				humanize.Bytes(uint64(p.consumed[common.Up])),
				humanize.Bytes(uint64(p.consumed[common.Down])),
			)
		}
	}
}
