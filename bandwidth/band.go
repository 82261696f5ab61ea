package bandwidth

// Band is the per-direction rate-limiting state a Node owns for UP and DOWN
// independently: whether the direction is limited at all, the desired rate,
// the bytes remaining in the current allocation period, and two rate
// histories — raw (all bytes) and piece (payload bytes only).
type Band struct {
	isLimited         bool
	honorParentLimits bool
	desiredBps        int64
	bytesLeft         int64

	raw   RateHistory
	piece RateHistory
}

func (b *Band) IsLimited() bool            { return b.isLimited }
func (b *Band) HonorParentLimits() bool    { return b.honorParentLimits }
func (b *Band) DesiredBps() int64          { return b.desiredBps }
func (b *Band) BytesLeft() int64           { return b.bytesLeft }

// refill sets bytesLeft for a period of periodMs milliseconds, if the band is
// limited. Unlimited bands never consult bytesLeft (clamp skips the cap
// entirely), so leaving it untouched when unlimited is harmless.
func (b *Band) refill(periodMs int64) {
	if b.isLimited {
		b.bytesLeft = b.desiredBps * periodMs / 1000
	}
}
