package oracle

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen is returned without calling the action while the breaker is open
var ErrOpen = errors.New("circuit breaker is open")

// Breaker stops calling a failing dependency for resetTimeout after threshold
// consecutive failures. Errors for which ignore returns true do not count.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failureCount int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	inTrial      bool
	ignore       func(error) bool
	log          *zap.Logger
	now          func() time.Time
}

func NewBreaker(threshold int, resetTimeout time.Duration, ignore func(error) bool, log *zap.Logger) *Breaker {
	if ignore == nil {
		ignore = func(error) bool { return false }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		ignore:       ignore,
		log:          log,
		now:          time.Now,
	}
}

// State reports the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs action unless the breaker is open. While half-open only one
// trial call runs; concurrent callers get ErrOpen. A threshold below 1
// disables the breaker.
func (b *Breaker) Execute(action func() error) error {
	if b.threshold < 1 {
		return action()
	}

	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.log.Info("circuit half-open")
		b.state = StateHalfOpen
	}
	trial := b.state == StateHalfOpen
	if trial {
		if b.inTrial {
			b.mu.Unlock()
			return ErrOpen
		}
		b.inTrial = true
	}
	b.mu.Unlock()

	err := action()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.inTrial = false
	}

	if err != nil && !b.ignore(err) {
		b.failureCount++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failureCount >= b.threshold {
			if b.state != StateOpen {
				b.log.Warn("circuit open", zap.Int("failures", b.failureCount), zap.Error(err))
			}
			b.state = StateOpen
		}
		return err
	}

	if b.state == StateHalfOpen {
		b.log.Info("circuit closed")
	}
	b.state = StateClosed
	b.failureCount = 0
	return err
}
