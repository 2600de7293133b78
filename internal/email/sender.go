package email

import (
	"context"
	"errors"
)

// ErrSessionBroken is returned by Session.Send when the session cannot carry
// further messages. The caller closes it and dials a new one.
var ErrSessionBroken = errors.New("relay session broken")

// Dialer opens authenticated sessions to a mail relay.
// Implementations exist for SMTP relays and the Gmail API.
type Dialer interface {
	// Dial establishes and authenticates a new relay session.
	Dial(ctx context.Context) (Session, error)
}

// Session is a single logical connection to a relay.
// A session is owned by one caller and is never used concurrently.
type Session interface {
	// Send submits one message over the session.
	Send(ctx context.Context, msg Message) error
	// Close ends the session.
	Close() error
}
