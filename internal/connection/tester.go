package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/pkg/types"
)

const defaultTestTimeout = 15 * time.Second

// legDial attempts a full connect and authenticate round trip for one leg.
type legDial func(ctx context.Context, s types.ServerSettings) error

// Result is the outcome of a connection test.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Tester verifies that account settings actually work by logging in to both
// servers. Settings are validated structurally first so that obviously broken
// input fails without touching the network.
type Tester struct {
	logger  *logrus.Logger
	timeout time.Duration

	imapDial legDial
	smtpDial legDial
}

// NewTester creates a tester that performs real IMAP and SMTP logins.
func NewTester(logger *logrus.Logger) *Tester {
	t := &Tester{
		logger:  logger,
		timeout: defaultTestTimeout,
	}
	t.imapDial = t.dialIMAP
	t.smtpDial = t.dialSMTP
	return t
}

// SetDialers replaces the per-leg dial functions. Used by tests.
func (t *Tester) SetDialers(imapDial, smtpDial legDial) {
	if imapDial != nil {
		t.imapDial = imapDial
	}
	if smtpDial != nil {
		t.smtpDial = smtpDial
	}
}

// SetTimeout overrides the per-leg timeout.
func (t *Tester) SetTimeout(d time.Duration) { t.timeout = d }

// Test checks the settings end to end. The IMAP leg runs first; the SMTP leg
// is only attempted once IMAP succeeded, so the reported error always points
// at the first broken leg.
func (t *Tester) Test(ctx context.Context, settings types.AccountSettings) Result {
	if errs := providers.ValidateSettings(settings); len(errs) > 0 {
		return Result{Success: false, Error: errs[0].Error()}
	}

	log := t.logger.WithFields(logrus.Fields{
		"imap_server": settings.Incoming.Server,
		"smtp_server": settings.Outgoing.Server,
	})
	log.Info("Testing mail connection")

	if err := t.runLeg(ctx, t.imapDial, settings.Incoming); err != nil {
		log.WithError(err).Warn("IMAP connection test failed")
		return Result{Success: false, Error: fmt.Sprintf("imap: %v", err)}
	}

	if err := t.runLeg(ctx, t.smtpDial, settings.Outgoing); err != nil {
		log.WithError(err).Warn("SMTP connection test failed")
		return Result{Success: false, Error: fmt.Sprintf("smtp: %v", err)}
	}

	log.Info("Mail connection test succeeded")
	return Result{Success: true}
}

func (t *Tester) runLeg(ctx context.Context, dial legDial, s types.ServerSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return dial(ctx, s)
}

// dialIMAP connects, logs in and logs out again.
func (t *Tester) dialIMAP(ctx context.Context, s types.ServerSettings) error {
	addr := fmt.Sprintf("%s:%d", s.Server, s.Port)
	dialer := &net.Dialer{Timeout: t.timeout}

	var cl *client.Client
	var err error
	if s.SSL {
		cl, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{
			ServerName: s.Server,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		cl, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer cl.Logout() //nolint:errcheck

	if err := cl.Login(s.Username, s.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	return nil
}

// dialSMTP connects, authenticates and quits. Port 465 gets implicit TLS,
// everything else upgrades via STARTTLS.
func (t *Tester) dialSMTP(ctx context.Context, s types.ServerSettings) error {
	addr := fmt.Sprintf("%s:%d", s.Server, s.Port)
	tlsConfig := &tls.Config{
		ServerName: s.Server,
		MinVersion: tls.VersionTLS12,
	}

	var cl *smtp.Client
	if s.Port == 465 {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: t.timeout}, "tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		cl, err = smtp.NewClient(conn, s.Server)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
	} else {
		conn, err := (&net.Dialer{Timeout: t.timeout}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		cl, err = smtp.NewClient(conn, s.Server)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
		if err := cl.StartTLS(tlsConfig); err != nil {
			cl.Close()
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	defer cl.Close()

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Server)
	if err := cl.Auth(auth); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	return cl.Quit()
}
