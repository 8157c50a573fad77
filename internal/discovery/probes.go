package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nexcrm/mailgate/pkg/types"
)

// Responses larger than this are assumed not to be autoconfig documents.
const maxProbeBody = 1 << 20

func autodiscoverURLs(domain string) []string {
	return []string{
		"https://autodiscover." + domain + "/autodiscover/autodiscover.xml",
		"https://" + domain + "/autodiscover/autodiscover.xml",
	}
}

func wellKnownURLs(domain string) []string {
	return []string{
		"https://" + domain + "/.well-known/autoconfig/mail/config-v1.1.xml",
		"https://autoconfig." + domain + "/mail/config-v1.1.xml",
	}
}

// autodiscoverResponse models the POX (plain old XML) Autodiscover answer.
type autodiscoverResponse struct {
	XMLName  xml.Name `xml:"Autodiscover"`
	Response struct {
		Account struct {
			Protocols []autodiscoverProtocol `xml:"Protocol"`
		} `xml:"Account"`
	} `xml:"Response"`
}

type autodiscoverProtocol struct {
	Type   string `xml:"Type"`
	Server string `xml:"Server"`
	Port   int    `xml:"Port"`
	SSL    string `xml:"SSL"`
}

// tryAutodiscover probes the fixed list of vendor autodiscovery endpoints and
// accepts the first response containing both an IMAP and an SMTP protocol
// block.
func (e *Engine) tryAutodiscover(ctx context.Context, domain, email string) (types.AccountSettings, bool) {
	reqBody := fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?><Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/outlook/requestschema/2006"><Request><EMailAddress>%s</EMailAddress><AcceptableResponseSchema>http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a</AcceptableResponseSchema></Request></Autodiscover>`,
		email,
	)

	for _, url := range e.autodiscoverURLs(domain) {
		body, err := e.probe(ctx, http.MethodPost, url, strings.NewReader(reqBody), "text/xml")
		if err != nil {
			continue
		}

		var resp autodiscoverResponse
		if err := xml.Unmarshal(body, &resp); err != nil {
			continue
		}

		var incoming, outgoing *types.ServerSettings
		for _, p := range resp.Response.Account.Protocols {
			ssl := strings.EqualFold(p.SSL, "on") || strings.EqualFold(p.SSL, "true")
			switch strings.ToUpper(p.Type) {
			case "IMAP":
				incoming = &types.ServerSettings{Server: p.Server, Port: p.Port, SSL: ssl}
			case "SMTP":
				outgoing = &types.ServerSettings{Server: p.Server, Port: p.Port, SSL: ssl}
			}
		}
		if incoming != nil && outgoing != nil && incoming.Server != "" && outgoing.Server != "" {
			return legsToSettings(email, *incoming, *outgoing), true
		}
	}
	return types.AccountSettings{}, false
}

// clientConfig models the Thunderbird autoconfig document served both by the
// ISPDB and by well-known autoconfig URIs.
type clientConfig struct {
	XMLName       xml.Name           `xml:"clientConfig"`
	EmailProvider struct {
		IncomingServers []clientConfigServer `xml:"incomingServer"`
		OutgoingServers []clientConfigServer `xml:"outgoingServer"`
	} `xml:"emailProvider"`
}

type clientConfigServer struct {
	Type       string `xml:"type,attr"`
	Hostname   string `xml:"hostname"`
	Port       int    `xml:"port"`
	SocketType string `xml:"socketType"`
}

// tryISPDB queries the community configuration database for the domain.
func (e *Engine) tryISPDB(ctx context.Context, domain, email string) (types.AccountSettings, bool) {
	url := strings.TrimSuffix(e.ISPDBBaseURL, "/") + "/" + domain
	body, err := e.probe(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return types.AccountSettings{}, false
	}
	return parseClientConfig(body, email)
}

// tryWellKnown probes the fixed .well-known autoconfig paths of the domain.
func (e *Engine) tryWellKnown(ctx context.Context, domain, email string) (types.AccountSettings, bool) {
	for _, url := range e.wellKnownURLs(domain) {
		body, err := e.probe(ctx, http.MethodGet, url, nil, "")
		if err != nil {
			continue
		}
		if settings, ok := parseClientConfig(body, email); ok {
			return settings, true
		}
	}
	return types.AccountSettings{}, false
}

func parseClientConfig(body []byte, email string) (types.AccountSettings, bool) {
	var cfg clientConfig
	if err := xml.Unmarshal(body, &cfg); err != nil {
		return types.AccountSettings{}, false
	}

	var incoming, outgoing *types.ServerSettings
	for _, s := range cfg.EmailProvider.IncomingServers {
		if strings.EqualFold(s.Type, "imap") && s.Hostname != "" {
			incoming = &types.ServerSettings{Server: s.Hostname, Port: s.Port, SSL: sslSocket(s.SocketType)}
			break
		}
	}
	for _, s := range cfg.EmailProvider.OutgoingServers {
		if strings.EqualFold(s.Type, "smtp") && s.Hostname != "" {
			outgoing = &types.ServerSettings{Server: s.Hostname, Port: s.Port, SSL: sslSocket(s.SocketType)}
			break
		}
	}
	if incoming == nil || outgoing == nil {
		return types.AccountSettings{}, false
	}
	return legsToSettings(email, *incoming, *outgoing), true
}

func sslSocket(socketType string) bool {
	return strings.EqualFold(socketType, "SSL") || strings.EqualFold(socketType, "STARTTLS")
}

// probe performs one bounded HTTP request and returns the body for 2xx
// responses only.
func (e *Engine) probe(ctx context.Context, method, url string, reqBody io.Reader, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty response from %s", url)
	}
	return body, nil
}
