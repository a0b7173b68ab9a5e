package session

import (
	"context"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

type MessageHandler func(ctx context.Context, s Session, evt *MessageEvent) error

type ConnectionHandler func(ctx context.Context, s Session, evt *ConnectionEvent) error

type CredentialsHandler func(ctx context.Context, s Session, evt *CredentialsEvent) error

// Router dispatches the events of one session to registered handlers.
// Handlers run on the Run goroutine, one at a time, in arrival order.
type Router struct {
	session     Session
	message     []MessageHandler
	connection  []ConnectionHandler
	credentials []CredentialsHandler
}

func NewRouter(s Session) *Router {
	return &Router{session: s}
}

func (r *Router) OnMessage(h MessageHandler) {
	r.message = append(r.message, h)
}

func (r *Router) OnConnection(h ConnectionHandler) {
	r.connection = append(r.connection, h)
}

func (r *Router) OnCredentials(h CredentialsHandler) {
	r.credentials = append(r.credentials, h)
}

// Run consumes events until the session reports a closed connection, the
// event channel closes, or ctx is done. The returned reason classifies the
// close; the error is non-nil only when ctx ended the loop.
func (r *Router) Run(ctx context.Context) (DisconnectReason, error) {
	events := r.session.Events()
	for {
		select {
		case <-ctx.Done():
			return ReasonUnknown, ctx.Err()
		case evt, ok := <-events:
			if !ok {
				log.Print(nil).Warn("Session event stream ended without a close event")
				return ReasonUnknown, nil
			}
			if closed, reason := r.dispatch(ctx, evt); closed {
				return reason, nil
			}
		}
	}
}

func (r *Router) dispatch(ctx context.Context, evt Event) (bool, DisconnectReason) {
	switch e := evt.(type) {
	case *MessageEvent:
		for _, h := range r.message {
			if err := h(ctx, r.session, e); err != nil {
				logHandlerError(e.Kind(), err)
			}
		}
	case *ConnectionEvent:
		for _, h := range r.connection {
			if err := h(ctx, r.session, e); err != nil {
				logHandlerError(e.Kind(), err)
			}
		}
		if e.State == StateClosed {
			return true, e.Reason()
		}
	case *CredentialsEvent:
		for _, h := range r.credentials {
			if err := h(ctx, r.session, e); err != nil {
				logHandlerError(e.Kind(), err)
			}
		}
	default:
		log.Print(nil).Debug("Ignoring unknown session event")
	}
	return false, ReasonUnknown
}

func logHandlerError(kind EventKind, err error) {
	log.Print(nil).WithField("event", kind.String()).WithError(err).Error("Session event handler failed")
}
