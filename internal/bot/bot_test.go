package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/message"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/reconnect"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
)

type sentText struct {
	to   string
	text string
}

type fakeSession struct {
	events    chan session.Event
	mu        sync.Mutex
	sent      []sentText
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSession(evts ...session.Event) *fakeSession {
	s := &fakeSession{
		events: make(chan session.Event, len(evts)+1),
		closed: make(chan struct{}),
	}
	for _, evt := range evts {
		s.events <- evt
	}
	return s
}

func (s *fakeSession) Events() <-chan session.Event { return s.events }

func (s *fakeSession) SendText(_ context.Context, to string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentText{to: to, text: text})
	return nil
}

func (s *fakeSession) SendReaction(context.Context, string, string, string, string) error {
	return nil
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.events)
	})
	return nil
}

func (s *fakeSession) texts() []sentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentText(nil), s.sent...)
}

// fakeConnector hands out scripted sessions in order. A nil session with a
// nil error in the script means the connect attempt fails.
type fakeConnector struct {
	mu       sync.Mutex
	script   []func() (session.Session, error)
	sessions []*fakeSession
	connects int
	bundles  []*credentials.Bundle
}

func (c *fakeConnector) Connect(_ context.Context, bundle *credentials.Bundle, _ session.Version) (session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects++
	c.bundles = append(c.bundles, bundle)
	if c.connects > len(c.script) {
		s := newFakeSession()
		c.sessions = append(c.sessions, s)
		return s, nil
	}
	s, err := c.script[c.connects-1]()
	if fs, ok := s.(*fakeSession); ok {
		c.sessions = append(c.sessions, fs)
	}
	return s, err
}

func (c *fakeConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeConnector) session(i int) *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i]
}

func sessionWith(evts ...session.Event) func() (session.Session, error) {
	return func() (session.Session, error) {
		return newFakeSession(evts...), nil
	}
}

func failing(err error) func() (session.Session, error) {
	return func() (session.Session, error) {
		return nil, err
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event string, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

type staticVersion struct{}

func (staticVersion) Resolve(context.Context) (session.Version, error) {
	return session.Version{Major: 2, Minor: 3000, Patch: 1, Latest: true}, nil
}

func bundle(jid string) *credentials.Bundle {
	return &credentials.Bundle{
		Version:        credentials.BundleVersion,
		JID:            jid,
		RegistrationID: 1,
		NoiseKey:       make([]byte, 32),
		IdentityKey:    make([]byte, 32),
		SignedPreKey: credentials.SignedPreKey{
			KeyID:      1,
			PrivateKey: make([]byte, 32),
			Signature:  make([]byte, 64),
		},
		AdvSecretKey: make([]byte, 32),
	}
}

type harness struct {
	bot       *Bot
	connector *fakeConnector
	notifier  *recordingNotifier
	store     *credentials.FileStore
}

func newHarness(t *testing.T, connector *fakeConnector, policy reconnect.Config, exitOnHalt bool) *harness {
	t.Helper()

	ackCfg := message.DefaultConfig()
	ackCfg.RatePerSecond = 0
	notifier := &recordingNotifier{}
	ack, err := message.NewAcknowledger(ackCfg, notifier)
	require.NoError(t, err)

	store := credentials.NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	b, err := New(Options{
		Connector:    connector,
		Versions:     staticVersion{},
		Store:        store,
		Policy:       reconnect.New(policy),
		Acknowledger: ack,
		Notifier:     notifier,
		ExitOnHalt:   exitOnHalt,
	})
	require.NoError(t, err)

	return &harness{bot: b, connector: connector, notifier: notifier, store: store}
}

func immediate() reconnect.Config {
	cfg := reconnect.DefaultConfig()
	cfg.InitialInterval = 0
	cfg.RandomizationFactor = 0
	return cfg
}

func runAsync(ctx context.Context, b *Bot, creds *credentials.Bundle) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, creds) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not stop")
		return nil
	}
}

func TestEchoThenReconnectOnce(t *testing.T) {
	connector := &fakeConnector{script: []func() (session.Session, error){
		sessionWith(
			&session.ConnectionEvent{State: session.StateOpen},
			&session.MessageEvent{ID: "M1", Sender: "111@domain", Participant: "111@domain", Content: session.PlainText{Text: "ping"}},
			&session.ConnectionEvent{State: session.StateClosed, Code: session.CodeConnectionClosed},
		),
		sessionWith(&session.ConnectionEvent{State: session.StateOpen}),
	}}
	h := newHarness(t, connector, immediate(), false)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, h.bot, bundle("222@s.whatsapp.net"))

	require.Eventually(t, func() bool {
		status := h.bot.Status()
		return status.Sessions == 2 && status.State == "open"
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, 2, connector.count(), "exactly one new connect after the transient disconnect")

	sent := connector.session(0).texts()
	require.Len(t, sent, 1)
	assert.Equal(t, "111@domain", sent[0].to)
	assert.True(t, strings.Contains(sent[0].text, "ping"))
	assert.Empty(t, connector.session(1).texts())

	select {
	case <-connector.session(0).closed:
	default:
		t.Fatal("first session was not closed before reconnecting")
	}

	assert.Equal(t, 2, h.notifier.count(NotifyConnectionOpen))
	assert.Equal(t, 1, h.notifier.count(NotifyConnectionClosed))
	assert.Equal(t, 1, h.notifier.count(message.NotifyAcknowledged))
	assert.Equal(t, "2.3000.1", h.bot.Status().Version)
}

func TestRetriesEveryNonLogoutReason(t *testing.T) {
	for _, code := range []int{session.CodeConnectionLost, session.CodeStreamReplaced, session.CodeRestartRequired, 0} {
		connector := &fakeConnector{script: []func() (session.Session, error){
			sessionWith(&session.ConnectionEvent{State: session.StateClosed, Code: code}),
			sessionWith(&session.ConnectionEvent{State: session.StateOpen}),
		}}
		h := newHarness(t, connector, immediate(), false)

		ctx, cancel := context.WithCancel(context.Background())
		done := runAsync(ctx, h.bot, bundle("222@s.whatsapp.net"))
		require.Eventually(t, func() bool { return h.bot.Status().Sessions == 2 }, 5*time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, waitRun(t, done))
		assert.Equal(t, 2, connector.count(), "code %d", code)
	}
}

func TestLoggedOutHalts(t *testing.T) {
	script := func() []func() (session.Session, error) {
		return []func() (session.Session, error){
			sessionWith(
				&session.ConnectionEvent{State: session.StateOpen},
				&session.ConnectionEvent{State: session.StateClosed, Code: session.CodeLoggedOut},
			),
		}
	}

	t.Run("ExitOnHalt", func(t *testing.T) {
		connector := &fakeConnector{script: script()}
		h := newHarness(t, connector, immediate(), true)

		err := h.bot.Run(context.Background(), bundle("222@s.whatsapp.net"))
		require.ErrorIs(t, err, ErrLoggedOut)
		assert.Equal(t, 1, connector.count())
		assert.True(t, h.bot.Status().Halted)
		assert.Equal(t, "logged-out", h.bot.Status().LastReason)
		assert.Equal(t, 1, h.notifier.count(NotifySessionHalted))
	})

	t.Run("StaysIdle", func(t *testing.T) {
		connector := &fakeConnector{script: script()}
		h := newHarness(t, connector, immediate(), false)

		ctx, cancel := context.WithCancel(context.Background())
		done := runAsync(ctx, h.bot, bundle("222@s.whatsapp.net"))
		require.Eventually(t, func() bool { return h.bot.Status().Halted }, 5*time.Second, 5*time.Millisecond)

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, connector.count(), "no reconnect after logout")

		cancel()
		require.NoError(t, waitRun(t, done))
	})
}

func TestMaxAttemptsExhausted(t *testing.T) {
	closed := func() (session.Session, error) {
		return newFakeSession(&session.ConnectionEvent{State: session.StateClosed, Code: session.CodeConnectionLost}), nil
	}
	connector := &fakeConnector{script: []func() (session.Session, error){closed, closed, closed}}
	policy := immediate()
	policy.MaxAttempts = 2
	h := newHarness(t, connector, policy, true)

	err := h.bot.Run(context.Background(), bundle("222@s.whatsapp.net"))
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, connector.count())
}

func TestStartupError(t *testing.T) {
	connector := &fakeConnector{script: []func() (session.Session, error){
		failing(errors.New("dial tcp: connection refused")),
	}}
	h := newHarness(t, connector, immediate(), false)

	err := h.bot.Run(context.Background(), bundle("222@s.whatsapp.net"))
	require.ErrorIs(t, err, ErrStartup)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, connector.count())
}

func TestConnectFailureAfterFirstSessionIsRetried(t *testing.T) {
	connector := &fakeConnector{script: []func() (session.Session, error){
		sessionWith(&session.ConnectionEvent{State: session.StateClosed, Code: session.CodeConnectionClosed}),
		failing(errors.New("dial tcp: i/o timeout")),
		sessionWith(&session.ConnectionEvent{State: session.StateOpen}),
	}}
	h := newHarness(t, connector, immediate(), false)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, h.bot, bundle("222@s.whatsapp.net"))
	require.Eventually(t, func() bool {
		status := h.bot.Status()
		return status.Sessions == 2 && status.State == "open"
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, 3, connector.count())
}

func TestCredentialUpdatesArePersisted(t *testing.T) {
	updated := bundle("222:7@s.whatsapp.net")
	updated.PushName = "Echo"

	connector := &fakeConnector{script: []func() (session.Session, error){
		sessionWith(
			&session.CredentialsEvent{Bundle: updated},
			&session.CredentialsEvent{Bundle: updated.Clone()},
			&session.ConnectionEvent{State: session.StateClosed, Code: session.CodeRestartRequired},
		),
		sessionWith(&session.ConnectionEvent{State: session.StateOpen}),
	}}
	h := newHarness(t, connector, immediate(), false)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, h.bot, bundle("222@s.whatsapp.net"))
	require.Eventually(t, func() bool { return h.bot.Status().Sessions == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitRun(t, done))

	stored, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "222:7@s.whatsapp.net", stored.JID)
	assert.Equal(t, "Echo", stored.PushName)

	assert.Equal(t, 1, h.notifier.count(NotifyCredentials), "identical update is not saved twice")
	assert.NotNil(t, h.bot.Status().LastSavedAt)

	connector.mu.Lock()
	defer connector.mu.Unlock()
	assert.Equal(t, "222@s.whatsapp.net", connector.bundles[0].JID)
	assert.Equal(t, "222:7@s.whatsapp.net", connector.bundles[1].JID, "reconnect uses the updated bundle")

	info, err := os.Stat(h.store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
