package watch

import (
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Backoff configures the delay between failed fetches.
type Backoff struct {
	InitialDelay time.Duration // delay after the first failure
	MaxDelay     time.Duration // cap on the delay
	Multiplier   float64       // growth per consecutive failure
	AddJitter    bool          // add up to 25% to each delay
}

// DefaultBackoff returns the backoff used unless WithBackoff says otherwise.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (b Backoff) normalize() Backoff {
	def := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = def.InitialDelay
	}
	if b.MaxDelay < b.InitialDelay {
		b.MaxDelay = b.InitialDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.Multiplier > 1000 {
		b.Multiplier = 1000
	}
	return b
}

// delay returns the wait before retrying after the given number of
// consecutive failures (1 for the first).
func (b Backoff) delay(failures int) time.Duration {
	d := float64(b.InitialDelay)
	for i := 1; i < failures && d < float64(b.MaxDelay); i++ {
		d *= b.Multiplier
	}
	if d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	out := time.Duration(d)
	if b.AddJitter && out >= 4 {
		randMu.Lock()
		out += time.Duration(randSource.Int63n(int64(out / 4)))
		randMu.Unlock()
	}
	return out
}
