package email_test

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostedid/notifier/internal/email"
	"github.com/hostedid/notifier/internal/logger"
	"github.com/hostedid/notifier/internal/mailer"
)

// fakeRelay is a plain-text SMTP server on loopback. It advertises neither
// AUTH nor STARTTLS and answers a nested MAIL with 503, like real relays do.
type fakeRelay struct {
	ln     net.Listener
	reject map[string]bool

	mu        sync.Mutex
	conns     int
	commands  []string
	delivered []delivery
	quits     int
}

type delivery struct {
	rcpts []string
	data  string
}

func newFakeRelay(t *testing.T, reject ...string) *fakeRelay {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	r := &fakeRelay{ln: ln, reject: map[string]bool{}}
	for _, addr := range reject {
		r.reject[addr] = true
	}
	go r.serve()
	return r
}

func (r *fakeRelay) dialer(t *testing.T) *email.SMTPDialer {
	t.Helper()
	d, err := email.NewSMTPDialer(email.SMTPConfig{
		Host: "127.0.0.1",
		Port: r.ln.Addr().(*net.TCPAddr).Port,
	})
	require.NoError(t, err)
	return d
}

func (r *fakeRelay) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handle(conn)
	}
}

func (r *fakeRelay) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)

	r.mu.Lock()
	r.conns++
	r.mu.Unlock()

	if err := tp.PrintfLine("220 localhost ESMTP ready"); err != nil {
		return
	}

	var (
		inTx  bool
		rcpts []string
	)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.commands = append(r.commands, line)
		r.mu.Unlock()

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "EHLO", "HELO":
			tp.PrintfLine("250-localhost")
			tp.PrintfLine("250 HELP")
		case "MAIL":
			if inTx {
				tp.PrintfLine("503 5.5.1 nested MAIL command")
				continue
			}
			inTx = true
			rcpts = nil
			tp.PrintfLine("250 2.1.0 OK")
		case "RCPT":
			addr := angleAddr(line)
			if r.reject[addr] {
				tp.PrintfLine("550 5.1.1 mailbox unavailable")
				continue
			}
			rcpts = append(rcpts, addr)
			tp.PrintfLine("250 2.1.5 OK")
		case "DATA":
			tp.PrintfLine("354 end data with <CR><LF>.<CR><LF>")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.delivered = append(r.delivered, delivery{rcpts: rcpts, data: string(data)})
			r.mu.Unlock()
			inTx = false
			tp.PrintfLine("250 2.0.0 queued")
		case "RSET":
			inTx = false
			tp.PrintfLine("250 2.0.0 OK")
		case "QUIT":
			r.mu.Lock()
			r.quits++
			r.mu.Unlock()
			tp.PrintfLine("221 2.0.0 bye")
			return
		default:
			tp.PrintfLine("502 5.5.2 command not recognized")
		}
	}
}

func (r *fakeRelay) deliveredTo() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.delivered {
		out = append(out, d.rcpts...)
	}
	return out
}

func (r *fakeRelay) countCommand(verb string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commands {
		if strings.HasPrefix(strings.ToUpper(c), verb) {
			n++
		}
	}
	return n
}

func (r *fakeRelay) stats() (conns, quits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns, r.quits
}

func angleAddr(line string) string {
	start := strings.IndexByte(line, '<')
	end := strings.LastIndexByte(line, '>')
	if start < 0 || end <= start {
		return ""
	}
	return line[start+1 : end]
}

func relayTemplate() email.Template {
	return email.Template{
		FromAddress: "bot@example.com",
		FromName:    "Blog Notifier",
		Subject:     "New post",
		HTMLBody:    email.NotificationHTML("https://blog.example.com/p/1", "Example Blog"),
		TextBody:    email.NotificationText("https://blog.example.com/p/1", "Example Blog"),
	}
}

func TestSMTPSessionDeliversMultipartAndQuits(t *testing.T) {
	relay := newFakeRelay(t)

	session, err := relay.dialer(t).Dial(context.Background())
	require.NoError(t, err)

	msg := relayTemplate().Compose("reader@example.com")
	require.NoError(t, session.Send(context.Background(), msg))
	require.NoError(t, session.Close())

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.delivered, 1)
	got := relay.delivered[0]
	assert.Equal(t, []string{"reader@example.com"}, got.rcpts)
	assert.Contains(t, got.data, "multipart/alternative")
	assert.Contains(t, got.data, "text/plain")
	assert.Contains(t, got.data, "text/html")
	assert.Contains(t, got.data, "Message-ID: "+msg.MessageID)
	assert.Contains(t, relay.commands, "MAIL FROM:<bot@example.com>")
	assert.Equal(t, 1, relay.quits)
	assert.Equal(t, "QUIT", relay.commands[len(relay.commands)-1])
}

func TestSMTPSessionBreaksOnRefusedRecipient(t *testing.T) {
	relay := newFakeRelay(t, "bad@example.com")
	d := relay.dialer(t)

	session, err := d.Dial(context.Background())
	require.NoError(t, err)

	err = session.Send(context.Background(), relayTemplate().Compose("bad@example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, email.ErrSessionBroken)
	assert.Contains(t, err.Error(), "550")

	// the open transaction is never reused
	err = session.Send(context.Background(), relayTemplate().Compose("good@example.com"))
	assert.ErrorIs(t, err, email.ErrSessionBroken)
	assert.Equal(t, 1, relay.countCommand("MAIL"))
	require.NoError(t, session.Close())

	next, err := d.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, next.Send(context.Background(), relayTemplate().Compose("good@example.com")))
	require.NoError(t, next.Close())

	assert.Equal(t, []string{"good@example.com"}, relay.deliveredTo())
	assert.Zero(t, relay.countCommand("RSET"))
	conns, quits := relay.stats()
	assert.Equal(t, 2, conns)
	assert.Equal(t, 2, quits)
}

func TestMailerRunSurvivesRefusedRecipientOverSMTP(t *testing.T) {
	relay := newFakeRelay(t, "bad@x.com")
	list := []string{"a@x.com", "bad@x.com", "c@x.com", "d@x.com"}

	m := mailer.New(relay.dialer(t), relayTemplate(), mailer.Options{ReconnectEvery: 20}, logger.Nop())
	res, err := m.Run(context.Background(), list)
	require.NoError(t, err)

	assert.Equal(t, mailer.Result{Total: 4, Sent: 3, Failed: 1, Reconnects: 0}, res)
	assert.Equal(t, []string{"a@x.com", "c@x.com", "d@x.com"}, relay.deliveredTo())
	// the broken session and the replacement both end with QUIT
	conns, quits := relay.stats()
	assert.Equal(t, 2, conns)
	assert.Equal(t, 2, quits)
}
