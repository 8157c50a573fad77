package providers

import (
	"fmt"
	"strings"

	"github.com/nexcrm/mailgate/pkg/types"
)

// Directory maps known email domains to provider configurations. Lookups are
// pure and synchronous; it is the fastest, highest-confidence discovery
// strategy.
type Directory struct {
	providers []types.MailProviderConfig
	byDomain  map[string]*types.MailProviderConfig
}

// defaultProviders lists the well-known consumer and business providers.
// Office 365 and Exchange carry no domains; they are offered as templates for
// manual setup only.
var defaultProviders = []types.MailProviderConfig{
	{
		Name:    "Gmail",
		Domains: []string{"gmail.com", "googlemail.com"},
		Incoming: types.ServerSettings{Server: "imap.gmail.com", Port: 993, SSL: true},
		Outgoing: types.ServerSettings{Server: "smtp.gmail.com", Port: 587, SSL: true},
		AuthType: types.AuthOAuth2,
	},
	{
		Name:    "Outlook",
		Domains: []string{"outlook.com", "hotmail.com", "live.com", "msn.com"},
		Incoming: types.ServerSettings{Server: "outlook.office365.com", Port: 993, SSL: true},
		Outgoing: types.ServerSettings{Server: "smtp-mail.outlook.com", Port: 587, SSL: true},
		AuthType: types.AuthOAuth2,
	},
	{
		Name:    "Yahoo Mail",
		Domains: []string{"yahoo.com", "yahoo.es", "ymail.com", "rocketmail.com"},
		Incoming: types.ServerSettings{Server: "imap.mail.yahoo.com", Port: 993, SSL: true},
		Outgoing: types.ServerSettings{Server: "smtp.mail.yahoo.com", Port: 587, SSL: true},
		AuthType: types.AuthPassword,
	},
	{
		Name:    "iCloud Mail",
		Domains: []string{"icloud.com", "me.com", "mac.com"},
		Incoming: types.ServerSettings{Server: "imap.mail.me.com", Port: 993, SSL: true},
		Outgoing: types.ServerSettings{Server: "smtp.mail.me.com", Port: 587, SSL: true},
		AuthType: types.AuthPassword,
	},
	{
		Name:    "Office 365",
		Domains: []string{},
		Incoming: types.ServerSettings{Server: "outlook.office365.com", Port: 993, SSL: true},
		Outgoing: types.ServerSettings{Server: "smtp.office365.com", Port: 587, SSL: true},
		AuthType: types.AuthOAuth2,
	},
	{
		Name:    "Microsoft Exchange",
		Domains: []string{},
		Incoming: types.ServerSettings{Port: 993, SSL: true},
		Outgoing: types.ServerSettings{Port: 587, SSL: true},
		AuthType: types.AuthPassword,
	},
}

// NewDirectory builds the default provider directory.
func NewDirectory() *Directory {
	d, err := NewDirectoryFrom(defaultProviders)
	if err != nil {
		// The built-in table is checked by tests; duplicates here are a bug.
		panic(err)
	}
	return d
}

// NewDirectoryFrom builds a directory from the given providers. Domain
// ownership must be unique: a domain claimed by two providers is rejected so
// lookups never depend on declaration order.
func NewDirectoryFrom(providers []types.MailProviderConfig) (*Directory, error) {
	byDomain := make(map[string]*types.MailProviderConfig)
	for i := range providers {
		p := &providers[i]
		for _, domain := range p.Domains {
			domain = strings.ToLower(domain)
			if prev, ok := byDomain[domain]; ok {
				return nil, fmt.Errorf("domain %s claimed by both %s and %s", domain, prev.Name, p.Name)
			}
			byDomain[domain] = p
		}
	}
	return &Directory{providers: providers, byDomain: byDomain}, nil
}

// Lookup returns the provider owning the given domain, or nil.
func (d *Directory) Lookup(domain string) *types.MailProviderConfig {
	return d.byDomain[strings.ToLower(domain)]
}

// LookupEmail returns the provider owning the email's domain, or nil.
func (d *Directory) LookupEmail(email string) *types.MailProviderConfig {
	domain := DomainOf(email)
	if domain == "" {
		return nil
	}
	return d.Lookup(domain)
}

// Providers returns all directory entries, including template-only ones.
func (d *Directory) Providers() []types.MailProviderConfig {
	return d.providers
}

// DomainOf extracts the lowercased domain part of an email address. Returns
// "" when the address has no domain.
func DomainOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
