package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSession struct {
	events chan Event
}

func newChanSession(events ...Event) *chanSession {
	s := &chanSession{events: make(chan Event, len(events)+1)}
	for _, evt := range events {
		s.events <- evt
	}
	return s
}

func (s *chanSession) Events() <-chan Event { return s.events }

func (s *chanSession) SendText(context.Context, string, string) error { return nil }

func (s *chanSession) SendReaction(context.Context, string, string, string, string) error {
	return nil
}

func (s *chanSession) Close() error { return nil }

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want DisconnectReason
	}{
		{CodeLoggedOut, ReasonLoggedOut},
		{CodeMainDeviceGone, ReasonLoggedOut},
		{CodeUnknownLogout, ReasonLoggedOut},
		{CodeConnectionLost, ReasonTransientNetwork},
		{CodeConnectionClosed, ReasonTransientNetwork},
		{CodeBadSession, ReasonTransientNetwork},
		{CodeServiceUnavailable, ReasonTransientNetwork},
		{CodeRestartRequired, ReasonTransientNetwork},
		{CodeTemporaryBan, ReasonUnknown},
		{CodeClientOutdated, ReasonUnknown},
		{CodeStreamReplaced, ReasonUnknown},
		{0, ReasonUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.code), "code %d", tt.code)
	}
}

func TestRouterDispatchOrder(t *testing.T) {
	s := newChanSession(
		&ConnectionEvent{State: StateConnecting},
		&ConnectionEvent{State: StateOpen},
		&MessageEvent{ID: "1", Sender: "111@s.whatsapp.net", Content: PlainText{Text: "a"}},
		&CredentialsEvent{},
		&MessageEvent{ID: "2", Sender: "111@s.whatsapp.net", Content: PlainText{Text: "b"}},
		&ConnectionEvent{State: StateClosed, Code: CodeConnectionClosed},
		&MessageEvent{ID: "never"},
	)

	var seen []string
	r := NewRouter(s)
	r.OnConnection(func(_ context.Context, _ Session, evt *ConnectionEvent) error {
		seen = append(seen, "conn:"+evt.State.String())
		return nil
	})
	r.OnMessage(func(_ context.Context, _ Session, evt *MessageEvent) error {
		seen = append(seen, "msg:"+evt.ID)
		return nil
	})
	r.OnCredentials(func(context.Context, Session, *CredentialsEvent) error {
		seen = append(seen, "creds")
		return nil
	})

	reason, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonTransientNetwork, reason)
	assert.Equal(t, []string{
		"conn:connecting",
		"conn:open",
		"msg:1",
		"creds",
		"msg:2",
		"conn:closed",
	}, seen)
}

func TestRouterHandlerErrorsDoNotStopLoop(t *testing.T) {
	s := newChanSession(
		&MessageEvent{ID: "1"},
		&MessageEvent{ID: "2"},
		&ConnectionEvent{State: StateClosed, Code: CodeLoggedOut},
	)

	calls := 0
	r := NewRouter(s)
	r.OnMessage(func(context.Context, Session, *MessageEvent) error {
		calls++
		return errors.New("send failed")
	})

	reason, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonLoggedOut, reason)
	assert.Equal(t, 2, calls)
}

func TestRouterChannelClosed(t *testing.T) {
	s := newChanSession(&ConnectionEvent{State: StateOpen})
	close(s.events)

	reason, err := NewRouter(s).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonUnknown, reason)
}

func TestRouterContextCancel(t *testing.T) {
	s := newChanSession()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewRouter(s).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVersionString(t *testing.T) {
	v := Version{Major: 2, Minor: 3000, Patch: 1023456789}
	assert.Equal(t, "2.3000.1023456789", v.String())
	assert.False(t, v.IsZero())
	assert.True(t, Version{}.IsZero())
}
