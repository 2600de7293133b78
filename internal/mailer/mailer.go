package mailer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hostedid/notifier/internal/email"
	"github.com/hostedid/notifier/internal/logger"
)

// ErrConnect is returned when the initial relay session cannot be established.
var ErrConnect = errors.New("relay connection failed")

// Composer builds the message for one recipient.
type Composer interface {
	Compose(to string) email.Message
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options controls pacing of a batch.
type Options struct {
	// ReconnectEvery is the number of successful sends after which the session is renewed.
	ReconnectEvery int
	// MinDelay and MaxDelay bound the pause after each successful send: [MinDelay, MaxDelay).
	MinDelay time.Duration
	MaxDelay time.Duration
	// Cooldown is the pause between closing a session and dialing the next one.
	Cooldown time.Duration
}

// DefaultOptions returns the pacing used against consumer mail providers.
func DefaultOptions() Options {
	return Options{
		ReconnectEvery: 20,
		MinDelay:       2 * time.Second,
		MaxDelay:       5 * time.Second,
		Cooldown:       5 * time.Second,
	}
}

// Result summarizes a batch run.
type Result struct {
	Total      int
	Sent       int
	Failed     int
	Reconnects int
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithSleeper replaces the real-time sleeper.
func WithSleeper(s Sleeper) Option {
	return func(m *Mailer) { m.sleep = s }
}

// WithRand replaces the source used for the inter-send delay.
func WithRand(r *rand.Rand) Option {
	return func(m *Mailer) { m.rnd = r }
}

// Mailer sends one notification per recipient over a single relay session,
// renewing the session every Options.ReconnectEvery successful sends.
type Mailer struct {
	dialer  email.Dialer
	compose Composer
	opts    Options
	sleep   Sleeper
	rnd     *rand.Rand
	log     *logger.Logger
}

// New creates a new Mailer.
func New(dialer email.Dialer, compose Composer, opts Options, log *logger.Logger, options ...Option) *Mailer {
	if opts.ReconnectEvery < 1 {
		opts.ReconnectEvery = DefaultOptions().ReconnectEvery
	}
	m := &Mailer{
		dialer:  dialer,
		compose: compose,
		opts:    opts,
		sleep:   sleepContext,
		rnd:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log:     log.WithComponent("mailer"),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Run attempts delivery to every recipient exactly once, in order.
//
// Per-recipient failures are logged and skipped. A send failing with
// email.ErrSessionBroken also drops the session, and the next recipient dials
// a new one. Only a failure to open the first session aborts the run; it is
// returned wrapped in ErrConnect with no recipient attempted. A cancelled ctx
// stops the run between recipients.
func (m *Mailer) Run(ctx context.Context, recipients []string) (Result, error) {
	res := Result{Total: len(recipients)}

	if len(recipients) == 0 {
		m.log.Warn().Msg("no subscribers, nothing to send")
		return res, nil
	}

	session, err := m.dialer.Dial(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to connect to mail relay")
		return res, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	m.log.Info().Msg("mail relay login succeeded")

	defer func() {
		if session == nil {
			return
		}
		// best-effort
		if err := session.Close(); err != nil {
			m.log.Debug().Err(err).Msg("failed to close relay session")
		}
	}()

	for i, to := range recipients {
		if err := ctx.Err(); err != nil {
			m.log.Warn().Err(err).Int("attempted", i).Int("total", res.Total).Msg("batch interrupted")
			return res, err
		}

		log := m.log.WithRecipient(to)

		if session == nil {
			session, err = m.dialer.Dial(ctx)
			if err != nil {
				res.Failed++
				log.Error().Err(err).Int("position", i+1).Msg("failed to send: relay unavailable")
				continue
			}
			log.Info().Msg("mail relay session restored")
		}

		if err := session.Send(ctx, m.compose.Compose(to)); err != nil {
			res.Failed++
			log.Error().Err(err).Int("position", i+1).Msgf("failed to send to %s", to)
			if errors.Is(err, email.ErrSessionBroken) {
				// the next recipient dials a fresh session
				if err := session.Close(); err != nil {
					log.Debug().Err(err).Msg("failed to close broken relay session")
				}
				session = nil
			}
			continue
		}

		res.Sent++
		log.Info().
			Int("sent", res.Sent).
			Int("total", res.Total).
			Msgf("[%d/%d] sent to %s", res.Sent, res.Total, to)

		if err := m.sleep(ctx, m.delay()); err != nil {
			return res, err
		}

		// no cycle after the final recipient, the deferred close ends the session
		if res.Sent%m.opts.ReconnectEvery == 0 && i < len(recipients)-1 {
			res.Reconnects++
			session, err = m.reconnect(ctx, session, res.Sent)
			if err != nil {
				return res, err
			}
		}
	}

	m.log.Info().
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("total", res.Total).
		Msg("all emails processed")

	return res, nil
}

// reconnect closes the current session, waits for the cooldown and dials a
// new one. A failed dial yields a nil session, which the send loop retries
// before the next recipient. Only context cancellation is returned.
func (m *Mailer) reconnect(ctx context.Context, session email.Session, sent int) (email.Session, error) {
	m.log.Info().Int("sent", sent).Msg("batch limit reached, reconnecting to mail relay")

	if err := session.Close(); err != nil {
		m.log.Debug().Err(err).Msg("failed to close relay session")
	}

	if err := m.sleep(ctx, m.opts.Cooldown); err != nil {
		return nil, err
	}

	next, err := m.dialer.Dial(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to reconnect to mail relay")
		return nil, nil
	}

	return next, nil
}

// delay returns a duration drawn uniformly from [MinDelay, MaxDelay).
func (m *Mailer) delay() time.Duration {
	span := m.opts.MaxDelay - m.opts.MinDelay
	if span <= 0 {
		return m.opts.MinDelay
	}
	return m.opts.MinDelay + time.Duration(m.rnd.Int64N(int64(span)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
