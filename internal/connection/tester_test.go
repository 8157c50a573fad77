package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcrm/mailgate/pkg/types"
)

func validSettings() types.AccountSettings {
	return types.AccountSettings{
		Incoming: types.ServerSettings{Server: "imap.example.com", Port: 993, SSL: true, Username: "u@example.com", Password: "p"},
		Outgoing: types.ServerSettings{Server: "smtp.example.com", Port: 587, SSL: true, Username: "u@example.com", Password: "p"},
	}
}

func newTestTester() *Tester {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewTester(logger)
}

func TestTestIncompleteSettingsFailWithoutDialing(t *testing.T) {
	tester := newTestTester()
	dials := 0
	tester.SetDialers(
		func(ctx context.Context, s types.ServerSettings) error { dials++; return nil },
		func(ctx context.Context, s types.ServerSettings) error { dials++; return nil },
	)

	settings := validSettings()
	settings.Incoming.Password = ""

	result := tester.Test(context.Background(), settings)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "password")
	assert.Zero(t, dials)
}

func TestTestIMAPFailureSkipsSMTP(t *testing.T) {
	tester := newTestTester()
	smtpDials := 0
	tester.SetDialers(
		func(ctx context.Context, s types.ServerSettings) error { return errors.New("login refused") },
		func(ctx context.Context, s types.ServerSettings) error { smtpDials++; return nil },
	)

	result := tester.Test(context.Background(), validSettings())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "imap: ")
	assert.Contains(t, result.Error, "login refused")
	assert.Zero(t, smtpDials)
}

func TestTestSMTPFailureReported(t *testing.T) {
	tester := newTestTester()
	tester.SetDialers(
		func(ctx context.Context, s types.ServerSettings) error { return nil },
		func(ctx context.Context, s types.ServerSettings) error { return errors.New("relay denied") },
	)

	result := tester.Test(context.Background(), validSettings())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "smtp: ")
	assert.Contains(t, result.Error, "relay denied")
}

func TestTestBothLegsSucceed(t *testing.T) {
	tester := newTestTester()
	var imapSeen, smtpSeen types.ServerSettings
	tester.SetDialers(
		func(ctx context.Context, s types.ServerSettings) error { imapSeen = s; return nil },
		func(ctx context.Context, s types.ServerSettings) error { smtpSeen = s; return nil },
	)

	settings := validSettings()
	result := tester.Test(context.Background(), settings)
	require.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.Equal(t, settings.Incoming, imapSeen)
	assert.Equal(t, settings.Outgoing, smtpSeen)
}

func TestTestHonorsCancelledContext(t *testing.T) {
	tester := newTestTester()
	dials := 0
	tester.SetDialers(
		func(ctx context.Context, s types.ServerSettings) error { dials++; return nil },
		func(ctx context.Context, s types.ServerSettings) error { dials++; return nil },
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := tester.Test(ctx, validSettings())
	assert.False(t, result.Success)
	assert.Zero(t, dials)
}
