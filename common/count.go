// Package common holds small types shared across the bandwidth, peerstore,
// magnetmeta and globalip packages.
package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Count is a process-wide, concurrency-safe counter. It saturates at zero:
// an Add that would take it below zero leaves it at zero. The top of its
// range is not guarded. It backs the process-wide live-instance counts
// (peerstore's known-peer count, globalip's open-cache count); the
// per-peer failure count uses SaturatingByte instead.
type Count struct {
	n int64
}

var _ fmt.Stringer = (*Count)(nil)

// Add adjusts the counter by n and returns the new value. It never goes
// negative.
func (c *Count) Add(n int64) int64 {
	for {
		old := atomic.LoadInt64(&c.n)
		nu := old + n
		if nu < 0 {
			nu = 0
		}
		if atomic.CompareAndSwapInt64(&c.n, old, nu) {
			return nu
		}
	}
}

func (c *Count) Int64() int64 {
	return atomic.LoadInt64(&c.n)
}

func (c *Count) String() string {
	return strconv.FormatInt(c.Int64(), 10)
}

func (c *Count) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.n)
}

// SaturatingByte is a uint8 counter that saturates at 255 instead of
// wrapping. It backs PeerInfo.numConsecutiveFails, which the spec calls out
// explicitly as "saturating u8": "implement with an explicit check, not with
// wrapping semantics".
type SaturatingByte struct {
	n uint8
}

// Increment bumps the counter by one unless it's already at its maximum.
func (s *SaturatingByte) Increment() {
	if s.n != 255 {
		s.n++
	}
}

func (s *SaturatingByte) Get() uint8 {
	return s.n
}

func (s *SaturatingByte) Reset() {
	s.n = 0
}
