// Package reconnect decides what happens after a session closes.
//
// The policy has two states. It starts in retry and moves to halt when the
// account is logged out or the configured attempt ceiling is exceeded. Halt
// is absorbing: once reached, every later decision is halt as well.
//
// Retries are delayed by an exponential backoff. The defaults produce
// 1s, 2s, 4s, 8s ... capped at 60s, each with up to 25% jitter. A zero
// initial interval reconnects immediately.
package reconnect

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
)

const (
	DefaultInitialInterval     = 1 * time.Second
	DefaultMaxInterval         = 60 * time.Second
	DefaultMultiplier          = 2.0
	DefaultRandomizationFactor = 0.25
)

// Decision is the policy state reached after a disconnect.
type Decision uint8

const (
	Retry Decision = iota
	Halt
)

func (d Decision) String() string {
	if d == Halt {
		return "halt"
	}
	return "retry"
}

// Config tunes the backoff schedule. MaxAttempts of 0 retries forever.
type Config struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxAttempts         int
}

func DefaultConfig() Config {
	return Config{
		InitialInterval:     DefaultInitialInterval,
		MaxInterval:         DefaultMaxInterval,
		Multiplier:          DefaultMultiplier,
		RandomizationFactor: DefaultRandomizationFactor,
	}
}

// Outcome is the result of one decision.
type Outcome struct {
	Decision Decision
	Delay    time.Duration

	// Attempt counts retries since the last successful open, starting at 1.
	Attempt int

	// Exhausted is set when the halt came from the attempt ceiling.
	Exhausted bool
}

type Policy struct {
	mu       sync.Mutex
	cfg      Config
	backoff  backoff.BackOff
	attempts int
	halted   bool
	reason   session.DisconnectReason
}

func New(cfg Config) *Policy {
	if cfg.InitialInterval < 0 {
		cfg.InitialInterval = 0
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.RandomizationFactor < 0 {
		cfg.RandomizationFactor = 0
	}
	if cfg.RandomizationFactor > 1 {
		cfg.RandomizationFactor = 1
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: cfg.RandomizationFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()

	var b backoff.BackOff = exp
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(exp, uint64(cfg.MaxAttempts))
	}

	return &Policy{cfg: cfg, backoff: b}
}

func (p *Policy) Config() Config {
	return p.cfg
}

// Decide records a disconnect and returns what to do next.
func (p *Policy) Decide(reason session.DisconnectReason) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.halted {
		return Outcome{Decision: Halt, Attempt: p.attempts}
	}

	p.reason = reason
	if reason == session.ReasonLoggedOut {
		p.halted = true
		return Outcome{Decision: Halt, Attempt: p.attempts}
	}

	delay := p.backoff.NextBackOff()
	if delay == backoff.Stop {
		p.halted = true
		return Outcome{Decision: Halt, Attempt: p.attempts, Exhausted: true}
	}

	p.attempts++
	return Outcome{Decision: Retry, Delay: delay, Attempt: p.attempts}
}

// Reset restarts the backoff schedule after a successful open. It never
// leaves the halt state.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.halted {
		return
	}
	p.attempts = 0
	p.backoff.Reset()
}

func (p *Policy) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// LastReason is the reason passed to the most recent Decide.
func (p *Policy) LastReason() session.DisconnectReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}
