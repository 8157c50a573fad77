package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/pkg/types"
)

type fakeResolver struct {
	records map[string][]*net.SRV
	calls   int
}

func (f *fakeResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	f.calls++
	key := service + "." + name
	recs, ok := f.records[key]
	if !ok {
		return "", nil, fmt.Errorf("no such record: %s", key)
	}
	return key, recs, nil
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in test")
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	e := NewEngine(providers.NewDirectory(), NewConfigCache(), logger)
	e.SetResolver(&fakeResolver{})
	e.SetHTTPClient(&http.Client{Transport: failingTransport{}})
	e.SetProbeURLs(
		func(string) []string { return nil },
		func(string) []string { return nil },
	)
	return e
}

func TestDiscoverInvalidEmail(t *testing.T) {
	e := newTestEngine(t)
	result := e.Discover(context.Background(), "nodomain", "Some One")
	assert.False(t, result.Success)
	assert.Equal(t, "invalid email address", result.Error)
}

func TestDiscoverProviderDirectory(t *testing.T) {
	e := newTestEngine(t)
	result := e.Discover(context.Background(), "user@gmail.com", "User")

	require.True(t, result.Success)
	assert.Equal(t, types.MethodProviderDB, result.Method)
	require.NotNil(t, result.Config)
	assert.Equal(t, "Gmail", result.Config.Provider)
	assert.Equal(t, "User", result.Config.Name)

	in := result.Config.Settings.Incoming
	assert.Equal(t, "imap.gmail.com", in.Server)
	assert.Equal(t, 993, in.Port)
	assert.True(t, in.SSL)
	assert.Equal(t, "user@gmail.com", in.Username)
	assert.Empty(t, in.Password)

	out := result.Config.Settings.Outgoing
	assert.Equal(t, "smtp.gmail.com", out.Server)
	assert.Equal(t, 587, out.Port)
	assert.Empty(t, out.Password)

	assert.True(t, result.RequiresOAuth)
	assert.Equal(t, "Google", result.OAuthProvider)
}

func TestDiscoverCacheShortCircuits(t *testing.T) {
	e := newTestEngine(t)
	resolver := &fakeResolver{}
	e.SetResolver(resolver)

	e.cache.Put("first@internal.example", types.AccountSettings{
		Incoming: types.ServerSettings{Server: "mail.internal.example", Port: 993, SSL: true, Username: "first@internal.example", Password: "secret"},
		Outgoing: types.ServerSettings{Server: "mail.internal.example", Port: 587, SSL: true, Username: "first@internal.example", Password: "secret"},
	})

	result := e.Discover(context.Background(), "second@internal.example", "Second")
	require.True(t, result.Success)
	assert.Equal(t, types.MethodCache, result.Method)
	assert.Equal(t, "mail.internal.example", result.Config.Settings.Incoming.Server)
	assert.Equal(t, "second@internal.example", result.Config.Settings.Incoming.Username)
	assert.Empty(t, result.Config.Settings.Incoming.Password)
	assert.Zero(t, resolver.calls)
}

func TestDiscoverDNSSRV(t *testing.T) {
	e := newTestEngine(t)
	e.SetResolver(&fakeResolver{records: map[string][]*net.SRV{
		"imaps.selfhost.example":      {{Target: "imap.selfhost.example.", Port: 993}},
		"submission.selfhost.example": {{Target: "smtp.selfhost.example.", Port: 587}},
	}})

	result := e.Discover(context.Background(), "user@selfhost.example", "")
	require.True(t, result.Success)
	assert.Equal(t, types.MethodDNSSRV, result.Method)
	assert.Equal(t, "imap.selfhost.example", result.Config.Settings.Incoming.Server)
	assert.True(t, result.Config.Settings.Incoming.SSL)
	assert.Equal(t, "smtp.selfhost.example", result.Config.Settings.Outgoing.Server)
	assert.Equal(t, 587, result.Config.Settings.Outgoing.Port)
	assert.True(t, result.Config.Settings.Outgoing.SSL)
	assert.False(t, result.RequiresOAuth)
}

func TestDiscoverSRVNotProvidedMarker(t *testing.T) {
	e := newTestEngine(t)
	// A single "." target means the service is explicitly not offered; the
	// cascade must fall through to the pattern.
	e.SetResolver(&fakeResolver{records: map[string][]*net.SRV{
		"imaps.nosrv.example":      {{Target: ".", Port: 0}},
		"submission.nosrv.example": {{Target: ".", Port: 0}},
	}})

	result := e.Discover(context.Background(), "user@nosrv.example", "")
	require.True(t, result.Success)
	assert.Equal(t, types.MethodGenericPattern, result.Method)
}

func TestDiscoverISPDB(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ispdb.example", r.URL.Path)
		fmt.Fprint(w, `<?xml version="1.0"?>
<clientConfig version="1.1">
  <emailProvider id="ispdb.example">
    <incomingServer type="imap">
      <hostname>imap.ispdb.example</hostname>
      <port>993</port>
      <socketType>SSL</socketType>
    </incomingServer>
    <outgoingServer type="smtp">
      <hostname>smtp.ispdb.example</hostname>
      <port>465</port>
      <socketType>SSL</socketType>
    </outgoingServer>
  </emailProvider>
</clientConfig>`)
	}))
	defer server.Close()

	e := newTestEngine(t)
	e.SetHTTPClient(server.Client())
	e.ISPDBBaseURL = server.URL

	result := e.Discover(context.Background(), "user@ispdb.example", "")
	require.True(t, result.Success)
	assert.Equal(t, types.MethodISPDB, result.Method)
	assert.Equal(t, "imap.ispdb.example", result.Config.Settings.Incoming.Server)
	assert.Equal(t, "smtp.ispdb.example", result.Config.Settings.Outgoing.Server)
	assert.Equal(t, 465, result.Config.Settings.Outgoing.Port)
	assert.True(t, result.Config.Settings.Outgoing.SSL)
	assert.Empty(t, result.Config.Settings.Incoming.Password)
}

func TestDiscoverAutodiscover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `<?xml version="1.0"?>
<Autodiscover>
  <Response>
    <Account>
      <Protocol><Type>IMAP</Type><Server>imap.corp.example</Server><Port>993</Port><SSL>on</SSL></Protocol>
      <Protocol><Type>SMTP</Type><Server>smtp.corp.example</Server><Port>587</Port><SSL>on</SSL></Protocol>
    </Account>
  </Response>
</Autodiscover>`)
	}))
	defer server.Close()

	e := newTestEngine(t)
	e.SetHTTPClient(server.Client())
	e.SetProbeURLs(func(domain string) []string { return []string{server.URL} }, nil)

	result := e.Discover(context.Background(), "user@corp.example", "")
	require.True(t, result.Success)
	assert.Equal(t, types.MethodAutodiscover, result.Method)
	assert.Equal(t, "exchange", result.Config.Provider)
	assert.Equal(t, "imap.corp.example", result.Config.Settings.Incoming.Server)
	assert.Equal(t, "smtp.corp.example", result.Config.Settings.Outgoing.Server)
}

func TestDiscoverWellKnown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<clientConfig version="1.1">
  <emailProvider id="wk.example">
    <incomingServer type="imap"><hostname>mail.wk.example</hostname><port>143</port><socketType>STARTTLS</socketType></incomingServer>
    <outgoingServer type="smtp"><hostname>mail.wk.example</hostname><port>587</port><socketType>STARTTLS</socketType></outgoingServer>
  </emailProvider>
</clientConfig>`)
	}))
	defer server.Close()

	e := newTestEngine(t)
	e.SetHTTPClient(server.Client())
	e.SetProbeURLs(nil, func(domain string) []string { return []string{server.URL} })
	// Keep the earlier ISPDB step off the network path.
	e.ISPDBBaseURL = "http://127.0.0.1:1"

	result := e.Discover(context.Background(), "user@wk.example", "")
	require.True(t, result.Success)
	assert.Equal(t, types.MethodWellKnown, result.Method)
	assert.Equal(t, "mail.wk.example", result.Config.Settings.Incoming.Server)
	assert.Equal(t, 143, result.Config.Settings.Incoming.Port)
	assert.True(t, result.Config.Settings.Incoming.SSL)
}

func TestDiscoverGenericPatternFallback(t *testing.T) {
	e := newTestEngine(t)
	result := e.Discover(context.Background(), "user@unknown-company.example", "")

	require.True(t, result.Success)
	assert.Equal(t, types.MethodGenericPattern, result.Method)
	assert.Equal(t, "imap.unknown-company.example", result.Config.Settings.Incoming.Server)
	assert.Equal(t, 993, result.Config.Settings.Incoming.Port)
	assert.True(t, result.Config.Settings.Incoming.SSL)
	assert.Equal(t, "smtp.unknown-company.example", result.Config.Settings.Outgoing.Server)
	assert.Equal(t, 587, result.Config.Settings.Outgoing.Port)
	assert.Empty(t, result.Config.Settings.Incoming.Password)
	assert.Empty(t, result.Config.Settings.Outgoing.Password)
}

func TestDiscoverFallbackDisabled(t *testing.T) {
	e := newTestEngine(t)
	e.PatternFallback = false

	result := e.Discover(context.Background(), "user@unknown-company.example", "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown-company.example")
	assert.Contains(t, result.Error, "manual configuration")
}
