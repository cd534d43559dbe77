package services

import (
	"math/rand"
	"sync"
	"time"

	"chathub/internal/core/ports"
	"chathub/pkg/wire"
)

func simulated(kind wire.Kind) bool {
	return kind == wire.KindData || kind == wire.KindAck
}

// RandomLoss drops data and ack frames with a fixed probability in both
// directions.
type RandomLoss struct {
	mu   sync.Mutex
	rate float64
	rng  *rand.Rand
}

func NewRandomLoss(rate float64) *RandomLoss {
	return NewRandomLossWithSource(rate, rand.NewSource(time.Now().UnixNano()))
}

func NewRandomLossWithSource(rate float64, src rand.Source) *RandomLoss {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &RandomLoss{rate: rate, rng: rand.New(src)}
}

func (l *RandomLoss) ShouldDrop(_ ports.Direction, kind wire.Kind) bool {
	if !simulated(kind) || l.rate <= 0 {
		return false
	}
	if l.rate >= 1 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < l.rate
}

func (l *RandomLoss) Rate() float64 {
	return l.rate
}

type NoLoss struct{}

func (NoLoss) ShouldDrop(ports.Direction, wire.Kind) bool { return false }
func (NoLoss) Rate() float64                              { return 0 }

// LossFunc adapts a function into a LossSimulator, for targeted drops in
// tests. It reports a configured rate of 0.
type LossFunc func(dir ports.Direction, kind wire.Kind) bool

func (f LossFunc) ShouldDrop(dir ports.Direction, kind wire.Kind) bool {
	return simulated(kind) && f(dir, kind)
}

func (LossFunc) Rate() float64 { return 0 }
