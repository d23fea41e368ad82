package id

import (
	"sync"
	"time"
)

// Generator produces strictly increasing int64 ids per process. Ids combine
// a millisecond timestamp with a per-millisecond sequence so they remain
// unique across restarts of the same client within clock resolution.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    int64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// sequence occupies the low bits; 2^20 ids per millisecond before spilling
// into the next millisecond slot.
const seqBits = 20

// Next returns a new id. If the clock goes backwards it keeps counting from
// the last observed millisecond, so ids never regress.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq++
		if g.seq >= 1<<seqBits {
			g.lastMs++
			g.seq = 0
		}
	} else {
		g.lastMs = ms
		g.seq = 0
	}
	return g.lastMs<<seqBits | g.seq
}
