package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailConfig holds the configuration for the Gmail API relay.
type GmailConfig struct {
	// CredentialsJSON is the service account credentials JSON.
	CredentialsJSON string
	// ClientID, ClientSecret and RefreshToken are the alternative to a service account.
	ClientID     string
	ClientSecret string
	RefreshToken string
	// SenderAddress is the mailbox messages are sent from.
	SenderAddress string
}

// GmailDialer implements Dialer using the Gmail API.
// A session wraps one authenticated API client.
type GmailDialer struct {
	cfg  GmailConfig
	opts []option.ClientOption
}

// NewGmailDialer creates a new GmailDialer.
// It expects a service account credentials JSON with domain-wide delegation,
// or OAuth2 client credentials with a refresh token for the sender mailbox.
func NewGmailDialer(cfg GmailConfig, opts ...option.ClientOption) (*GmailDialer, error) {
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("gmail: sender address is required")
	}
	if cfg.CredentialsJSON == "" && cfg.RefreshToken == "" {
		return nil, fmt.Errorf("gmail: credentials JSON or refresh token is required")
	}

	return &GmailDialer{cfg: cfg, opts: opts}, nil
}

// Dial authenticates and creates a Gmail API client.
func (d *GmailDialer) Dial(ctx context.Context) (Session, error) {
	opts := d.opts
	if len(opts) == 0 {
		client, err := d.httpClient(ctx)
		if err != nil {
			return nil, err
		}
		opts = []option.ClientOption{option.WithHTTPClient(client)}
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}

	return &gmailSession{service: svc}, nil
}

func (d *GmailDialer) httpClient(ctx context.Context) (*http.Client, error) {
	if d.cfg.CredentialsJSON != "" {
		jwtConfig, err := google.JWTConfigFromJSON([]byte(d.cfg.CredentialsJSON), gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("gmail: failed to parse credentials: %w", err)
		}
		// Impersonate the sender through domain-wide delegation
		jwtConfig.Subject = d.cfg.SenderAddress
		return jwtConfig.Client(ctx), nil
	}

	oauthCfg := &oauth2.Config{
		ClientID:     d.cfg.ClientID,
		ClientSecret: d.cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	token := &oauth2.Token{
		RefreshToken: d.cfg.RefreshToken,
	}
	return oauthCfg.Client(ctx, token), nil
}

type gmailSession struct {
	service *gmail.Service
}

// Send sends an email via the Gmail API.
func (s *gmailSession) Send(ctx context.Context, msg Message) error {
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return fmt.Errorf("gmail: failed to render message: %w", err)
	}

	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(buf.Bytes()),
	}

	_, err := s.service.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: failed to send email: %w", err)
	}

	return nil
}

// Close is a no-op for API sessions.
func (s *gmailSession) Close() error {
	return nil
}
