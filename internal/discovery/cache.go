package discovery

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/pkg/types"
)

const defaultCacheSize = 256

// ConfigCache remembers the last verified server settings per domain so that
// later setups for the same domain skip the discovery cascade entirely. It is
// process-lifetime only and must be populated exclusively after a successful
// connection test, never from unverified discovery output.
type ConfigCache struct {
	entries *lru.Cache[string, types.AccountSettings]
}

// NewConfigCache creates an empty cache.
func NewConfigCache() *ConfigCache {
	entries, err := lru.New[string, types.AccountSettings](defaultCacheSize)
	if err != nil {
		// lru.New only fails on size <= 0.
		panic(err)
	}
	return &ConfigCache{entries: entries}
}

// Put stores verified settings for the email's domain. Credentials are
// dropped before storage; a cache entry never carries a password.
func (c *ConfigCache) Put(email string, settings types.AccountSettings) {
	domain := providers.DomainOf(email)
	if domain == "" {
		return
	}
	c.entries.Add(domain, stripCredentials(settings))
}

// Get returns the cached settings for the email's domain. The username of
// both legs is rewritten to the requesting address and passwords are left
// empty; the caller must re-supply them.
func (c *ConfigCache) Get(email string) (types.AccountSettings, bool) {
	domain := providers.DomainOf(email)
	if domain == "" {
		return types.AccountSettings{}, false
	}
	settings, ok := c.entries.Get(domain)
	if !ok {
		return types.AccountSettings{}, false
	}
	settings = stripCredentials(settings)
	settings.Incoming.Username = email
	settings.Outgoing.Username = email
	return settings, true
}

func stripCredentials(s types.AccountSettings) types.AccountSettings {
	s.Incoming.Username = ""
	s.Incoming.Password = ""
	s.Outgoing.Username = ""
	s.Outgoing.Password = ""
	return s
}
