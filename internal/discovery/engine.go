package discovery

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/pkg/types"
)

// Resolver is the subset of net.Resolver used by the engine.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// Engine resolves IMAP/SMTP configuration for an email address through a
// strict sequential cascade of strategies. Strategies are not raced: the
// fixed order keeps results deterministic and avoids probing servers that an
// earlier, cheaper strategy already answered for.
type Engine struct {
	directory  *providers.Directory
	cache      *ConfigCache
	resolver   Resolver
	httpClient *http.Client
	logger     *logrus.Logger

	// PatternFallback controls the terminal guessing strategy. When false
	// the engine can fail outright for unknown domains.
	PatternFallback bool

	// ISPDBBaseURL is the community configuration database endpoint.
	ISPDBBaseURL string

	// autodiscoverURLs and wellKnownURLs build the probe URL lists for a
	// domain. Overridable in tests.
	autodiscoverURLs func(domain string) []string
	wellKnownURLs    func(domain string) []string
}

const (
	defaultISPDBBaseURL = "https://autoconfig.thunderbird.net/v1.1"
	defaultProbeTimeout = 10 * time.Second
)

// NewEngine creates a discovery engine with real DNS and HTTP probes.
func NewEngine(directory *providers.Directory, cache *ConfigCache, logger *logrus.Logger) *Engine {
	return &Engine{
		directory:        directory,
		cache:            cache,
		resolver:         net.DefaultResolver,
		httpClient:       &http.Client{Timeout: defaultProbeTimeout},
		logger:           logger,
		PatternFallback:  true,
		ISPDBBaseURL:     defaultISPDBBaseURL,
		autodiscoverURLs: autodiscoverURLs,
		wellKnownURLs:    wellKnownURLs,
	}
}

// SetResolver replaces the DNS resolver. Used by tests.
func (e *Engine) SetResolver(r Resolver) { e.resolver = r }

// SetHTTPClient replaces the HTTP client used for probes. Used by tests.
func (e *Engine) SetHTTPClient(c *http.Client) { e.httpClient = c }

// SetProbeURLs replaces the autodiscover and well-known URL builders. Used by
// tests to point probes at a local server.
func (e *Engine) SetProbeURLs(autodiscover, wellKnown func(domain string) []string) {
	if autodiscover != nil {
		e.autodiscoverURLs = autodiscover
	}
	if wellKnown != nil {
		e.wellKnownURLs = wellKnown
	}
}

// Discover runs the cascade for the given address. Credentials in the result
// are always empty; they are never guessed. If the address belongs to a
// provider that requires OAuth2 the result carries a warning flag so the
// caller can tell the user that password auth will not work.
func (e *Engine) Discover(ctx context.Context, email, displayName string) *types.DiscoveredConfig {
	domain := providers.DomainOf(email)
	if domain == "" {
		return &types.DiscoveredConfig{Success: false, Error: "invalid email address"}
	}

	log := e.logger.WithFields(logrus.Fields{"email": email, "domain": domain})
	log.Info("Starting mail autodiscovery")

	// 1. Verified-config cache. A hit short-circuits the whole cascade.
	if settings, ok := e.cache.Get(email); ok {
		log.Debug("Configuration found in cache")
		return e.finish(email, displayName, domain, "imap", settings, types.MethodCache)
	}

	// 2. Known-provider directory.
	if p := e.directory.Lookup(domain); p != nil {
		log.WithField("provider", p.Name).Debug("Configuration found in provider directory")
		return e.finish(email, displayName, domain, p.Name, legsToSettings(email, p.Incoming, p.Outgoing), types.MethodProviderDB)
	}

	// 3. DNS SRV records.
	if settings, ok := e.trySRV(ctx, domain, email); ok {
		log.Debug("Configuration found via DNS SRV")
		return e.finish(email, displayName, domain, "imap", settings, types.MethodDNSSRV)
	}

	// 4. Vendor autodiscovery endpoints.
	if settings, ok := e.tryAutodiscover(ctx, domain, email); ok {
		log.Debug("Configuration found via autodiscover")
		return e.finish(email, displayName, domain, "exchange", settings, types.MethodAutodiscover)
	}

	// 5. Community configuration database.
	if settings, ok := e.tryISPDB(ctx, domain, email); ok {
		log.Debug("Configuration found via ISPDB")
		return e.finish(email, displayName, domain, "imap", settings, types.MethodISPDB)
	}

	// 6. Well-known autoconfig URIs.
	if settings, ok := e.tryWellKnown(ctx, domain, email); ok {
		log.Debug("Configuration found via well-known URI")
		return e.finish(email, displayName, domain, "imap", settings, types.MethodWellKnown)
	}

	// 7. Generic hostname pattern. Terminal fallback, cannot fail.
	if e.PatternFallback {
		log.Debug("Falling back to generic hostname pattern")
		settings := legsToSettings(email,
			types.ServerSettings{Server: "imap." + domain, Port: 993, SSL: true},
			types.ServerSettings{Server: "smtp." + domain, Port: 587, SSL: true},
		)
		return e.finish(email, displayName, domain, "imap", settings, types.MethodGenericPattern)
	}

	return &types.DiscoveredConfig{
		Success: false,
		Error:   fmt.Sprintf("could not automatically detect mail configuration for %s; manual configuration required", domain),
	}
}

// finish assembles a successful result and attaches the OAuth warning.
func (e *Engine) finish(email, displayName, domain, provider string, settings types.AccountSettings, method types.DiscoveryMethod) *types.DiscoveredConfig {
	oauth := providers.DetectOAuth2Requirement(email)
	return &types.DiscoveredConfig{
		Success: true,
		Method:  method,
		Config: &types.MailAccount{
			Name:     displayName,
			Email:    email,
			Provider: provider,
			Settings: settings,
			IsActive: true,
		},
		RequiresOAuth: oauth.RequiresOAuth,
		OAuthProvider: oauth.Provider,
	}
}

// legsToSettings combines two legs into account settings with the email as
// username and no password.
func legsToSettings(email string, incoming, outgoing types.ServerSettings) types.AccountSettings {
	incoming.Username = email
	incoming.Password = ""
	outgoing.Username = email
	outgoing.Password = ""
	return types.AccountSettings{Incoming: incoming, Outgoing: outgoing}
}

// trySRV looks up the conventional IMAPS and submission service records. Both
// legs must resolve for the strategy to succeed.
func (e *Engine) trySRV(ctx context.Context, domain, email string) (types.AccountSettings, bool) {
	imapRec, err := e.lookupFirstSRV(ctx, "imaps", domain)
	if err != nil || imapRec == nil {
		return types.AccountSettings{}, false
	}
	smtpRec, err := e.lookupFirstSRV(ctx, "submission", domain)
	if err != nil || smtpRec == nil {
		return types.AccountSettings{}, false
	}

	incoming := types.ServerSettings{
		Server: trimDot(imapRec.Target),
		Port:   int(imapRec.Port),
		SSL:    imapRec.Port == 993,
	}
	outgoing := types.ServerSettings{
		Server: trimDot(smtpRec.Target),
		Port:   int(smtpRec.Port),
		SSL:    smtpRec.Port == 465 || smtpRec.Port == 587,
	}
	return legsToSettings(email, incoming, outgoing), true
}

func (e *Engine) lookupFirstSRV(ctx context.Context, service, domain string) (*net.SRV, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	_, records, err := e.resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		// A single record with target "." means the service is explicitly
		// not provided (RFC 2782).
		if rec.Target != "" && rec.Target != "." {
			return rec, nil
		}
	}
	return nil, nil
}

func trimDot(host string) string {
	if len(host) > 0 && host[len(host)-1] == '.' {
		return host[:len(host)-1]
	}
	return host
}
