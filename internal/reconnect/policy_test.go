package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
)

func deterministicConfig() Config {
	cfg := DefaultConfig()
	cfg.RandomizationFactor = 0
	return cfg
}

func TestRetryForEveryReasonButLoggedOut(t *testing.T) {
	reasons := []session.DisconnectReason{
		session.ReasonUnknown,
		session.ReasonTransientNetwork,
		session.DisconnectReason(99),
	}

	for _, reason := range reasons {
		t.Run(reason.String(), func(t *testing.T) {
			p := New(DefaultConfig())
			for i := 0; i < 20; i++ {
				out := p.Decide(reason)
				require.Equal(t, Retry, out.Decision)
			}
			assert.False(t, p.Halted())
		})
	}
}

func TestLoggedOutHaltsForever(t *testing.T) {
	p := New(DefaultConfig())

	require.Equal(t, Retry, p.Decide(session.ReasonTransientNetwork).Decision)

	out := p.Decide(session.ReasonLoggedOut)
	require.Equal(t, Halt, out.Decision)
	assert.False(t, out.Exhausted)
	assert.True(t, p.Halted())

	p.Reset()
	for _, reason := range []session.DisconnectReason{
		session.ReasonTransientNetwork,
		session.ReasonUnknown,
		session.ReasonLoggedOut,
	} {
		assert.Equal(t, Halt, p.Decide(reason).Decision)
	}
	assert.True(t, p.Halted())
	assert.Equal(t, session.ReasonLoggedOut, p.LastReason())
}

func TestBackoffSchedule(t *testing.T) {
	t.Run("Exponential", func(t *testing.T) {
		p := New(deterministicConfig())

		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}
		for i, want := range expected {
			out := p.Decide(session.ReasonTransientNetwork)
			assert.Equal(t, want, out.Delay, "attempt %d", i+1)
			assert.Equal(t, i+1, out.Attempt)
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		p := New(DefaultConfig())
		delay := p.Decide(session.ReasonUnknown).Delay
		assert.GreaterOrEqual(t, delay, 750*time.Millisecond)
		assert.LessOrEqual(t, delay, 1250*time.Millisecond)
	})

	t.Run("Immediate", func(t *testing.T) {
		cfg := deterministicConfig()
		cfg.InitialInterval = 0
		p := New(cfg)
		for i := 0; i < 5; i++ {
			assert.Equal(t, time.Duration(0), p.Decide(session.ReasonUnknown).Delay)
		}
	})

	t.Run("ResetAfterOpen", func(t *testing.T) {
		p := New(deterministicConfig())
		for i := 0; i < 4; i++ {
			p.Decide(session.ReasonTransientNetwork)
		}
		require.Equal(t, 4, p.Attempts())

		p.Reset()
		out := p.Decide(session.ReasonTransientNetwork)
		assert.Equal(t, 1*time.Second, out.Delay)
		assert.Equal(t, 1, out.Attempt)
	})
}

func TestMaxAttempts(t *testing.T) {
	cfg := deterministicConfig()
	cfg.MaxAttempts = 3
	p := New(cfg)

	for i := 0; i < 3; i++ {
		require.Equal(t, Retry, p.Decide(session.ReasonTransientNetwork).Decision)
	}

	out := p.Decide(session.ReasonTransientNetwork)
	assert.Equal(t, Halt, out.Decision)
	assert.True(t, out.Exhausted)
	assert.True(t, p.Halted())

	p.Reset()
	assert.Equal(t, Halt, p.Decide(session.ReasonTransientNetwork).Decision)
}

func TestResetRestoresAttemptBudget(t *testing.T) {
	cfg := deterministicConfig()
	cfg.MaxAttempts = 2
	p := New(cfg)

	p.Decide(session.ReasonUnknown)
	p.Decide(session.ReasonUnknown)
	p.Reset()

	assert.Equal(t, Retry, p.Decide(session.ReasonUnknown).Decision)
	assert.Equal(t, Retry, p.Decide(session.ReasonUnknown).Decision)
	assert.Equal(t, Halt, p.Decide(session.ReasonUnknown).Decision)
}

func TestNewClampsConfig(t *testing.T) {
	p := New(Config{
		InitialInterval:     -time.Second,
		MaxInterval:         -time.Second,
		Multiplier:          0,
		RandomizationFactor: 3,
		MaxAttempts:         -1,
	})
	cfg := p.Config()
	assert.Equal(t, time.Duration(0), cfg.InitialInterval)
	assert.Equal(t, time.Duration(0), cfg.MaxInterval)
	assert.Equal(t, 1.0, cfg.Multiplier)
	assert.Equal(t, 1.0, cfg.RandomizationFactor)
	assert.Equal(t, 0, cfg.MaxAttempts)
}
