package providers

// OAuthRequirement describes a provider that will reject plain password
// authentication on IMAP/SMTP.
type OAuthRequirement struct {
	RequiresOAuth bool   `json:"requires_oauth"`
	Provider      string `json:"provider,omitempty"`
	AuthURL       string `json:"auth_url,omitempty"`
}

var oauthDomains = map[string]OAuthRequirement{
	"gmail.com": {
		RequiresOAuth: true,
		Provider:      "Google",
		AuthURL:       "https://accounts.google.com/oauth/authorize",
	},
	"googlemail.com": {
		RequiresOAuth: true,
		Provider:      "Google",
		AuthURL:       "https://accounts.google.com/oauth/authorize",
	},
	"outlook.com": {
		RequiresOAuth: true,
		Provider:      "Microsoft",
		AuthURL:       "https://login.microsoftonline.com/common/oauth2/authorize",
	},
	"hotmail.com": {
		RequiresOAuth: true,
		Provider:      "Microsoft",
		AuthURL:       "https://login.microsoftonline.com/common/oauth2/authorize",
	},
	"live.com": {
		RequiresOAuth: true,
		Provider:      "Microsoft",
		AuthURL:       "https://login.microsoftonline.com/common/oauth2/authorize",
	},
}

// DetectOAuth2Requirement reports whether the email's provider requires
// OAuth2. This is a soft warning for the setup flow, not a blocking error.
func DetectOAuth2Requirement(email string) OAuthRequirement {
	domain := DomainOf(email)
	if req, ok := oauthDomains[domain]; ok {
		return req
	}
	return OAuthRequirement{}
}
