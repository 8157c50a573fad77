package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcrm/mailgate/pkg/types"
)

func TestLookupKnownDomains(t *testing.T) {
	d := NewDirectory()

	gmail := d.Lookup("gmail.com")
	require.NotNil(t, gmail)
	assert.Equal(t, "Gmail", gmail.Name)
	assert.Equal(t, "imap.gmail.com", gmail.Incoming.Server)
	assert.Equal(t, 993, gmail.Incoming.Port)
	assert.True(t, gmail.Incoming.SSL)
	assert.Equal(t, "smtp.gmail.com", gmail.Outgoing.Server)
	assert.Equal(t, 587, gmail.Outgoing.Port)
	assert.Equal(t, types.AuthOAuth2, gmail.AuthType)

	assert.Same(t, gmail, d.Lookup("googlemail.com"))
	assert.Same(t, gmail, d.Lookup("GMAIL.COM"))

	outlook := d.Lookup("hotmail.com")
	require.NotNil(t, outlook)
	assert.Equal(t, "outlook.office365.com", outlook.Incoming.Server)

	assert.Nil(t, d.Lookup("example.org"))
}

func TestLookupEmail(t *testing.T) {
	d := NewDirectory()

	p := d.LookupEmail("someone@Yahoo.com")
	require.NotNil(t, p)
	assert.Equal(t, "Yahoo Mail", p.Name)

	assert.Nil(t, d.LookupEmail("not-an-address"))
}

func TestDirectoryRejectsDuplicateDomains(t *testing.T) {
	_, err := NewDirectoryFrom([]types.MailProviderConfig{
		{Name: "A", Domains: []string{"shared.com"}},
		{Name: "B", Domains: []string{"Shared.com"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared.com")
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", DomainOf("user@example.com"))
	assert.Equal(t, "example.com", DomainOf("user@EXAMPLE.COM"))
	assert.Equal(t, "b.com", DomainOf("weird@a@b.com"))
	assert.Equal(t, "", DomainOf("nodomain"))
	assert.Equal(t, "", DomainOf("trailing@"))
}

func TestDetectOAuth2Requirement(t *testing.T) {
	tests := []struct {
		email    string
		requires bool
		provider string
	}{
		{"a@gmail.com", true, "Google"},
		{"a@googlemail.com", true, "Google"},
		{"a@outlook.com", true, "Microsoft"},
		{"a@hotmail.com", true, "Microsoft"},
		{"a@live.com", true, "Microsoft"},
		{"a@yahoo.com", false, ""},
		{"a@corp.example", false, ""},
	}
	for _, tc := range tests {
		got := DetectOAuth2Requirement(tc.email)
		assert.Equal(t, tc.requires, got.RequiresOAuth, tc.email)
		assert.Equal(t, tc.provider, got.Provider, tc.email)
		if tc.requires {
			assert.NotEmpty(t, got.AuthURL, tc.email)
		}
	}
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("user@example.com"))
	assert.True(t, ValidEmail("first.last+tag@sub.example.co"))
	assert.False(t, ValidEmail("user@example"))
	assert.False(t, ValidEmail("user example@example.com"))
	assert.False(t, ValidEmail("@example.com"))
}

func TestValidateSettings(t *testing.T) {
	valid := types.AccountSettings{
		Incoming: types.ServerSettings{Server: "imap.example.com", Port: 993, SSL: true, Username: "u", Password: "p"},
		Outgoing: types.ServerSettings{Server: "smtp.example.com", Port: 587, SSL: true, Username: "u", Password: "p"},
	}
	assert.Empty(t, ValidateSettings(valid))

	broken := valid
	broken.Incoming.Server = ""
	broken.Outgoing.Port = 70000
	errs := ValidateSettings(broken)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "imap")
	assert.Contains(t, errs[1].Error(), "smtp")
}

func TestClassifyFolder(t *testing.T) {
	assert.Equal(t, types.FolderInbox, ClassifyFolder("INBOX", nil))
	assert.Equal(t, types.FolderSent, ClassifyFolder("Gesendet", []string{"\\Sent"}))
	assert.Equal(t, types.FolderTrash, ClassifyFolder("Papierkorb", []string{"\\HasNoChildren", "\\Trash"}))
	assert.Equal(t, types.FolderSpam, ClassifyFolder("Bulk", []string{"\\Junk"}))
	assert.Equal(t, types.FolderArchive, ClassifyFolder("All Mail", []string{"\\All"}))
	assert.Equal(t, types.FolderCustom, ClassifyFolder("Projects", nil))
}

func TestDefaultFolders(t *testing.T) {
	require.Len(t, DefaultFolders, 4)
	names := make([]string, 0, 4)
	for _, f := range DefaultFolders {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"INBOX", "Sent", "Drafts", "Trash"}, names)
}
