package credentials

import (
	"slices"
	"time"

	"golang.org/x/oauth2"
)

// Provider identifies which Google service a credential was issued for.
type Provider string

const (
	ProviderGmail          Provider = "gmail"
	ProviderGoogleCalendar Provider = "calendar"
)

// expiryDelta mirrors the skew x/oauth2 applies before treating a token as expired.
const expiryDelta = 10 * time.Second

// DefaultTokenURI is the Google token endpoint used when a record does not name one.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// Credential is the in-memory form of an OAuth2 grant for one account.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	Scopes       []string
	Provider     Provider

	// Client identity needed to refresh without re-reading the secrets file.
	ClientID     string
	ClientSecret string
	TokenURI     string
}

// Valid reports whether the access token can be used at now.
// A zero Expiry means the token does not expire.
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.Expiry.IsZero() {
		return true
	}
	return now.Add(expiryDelta).Before(c.Expiry)
}

// Refreshable reports whether a refresh token is present.
func (c *Credential) Refreshable() bool {
	return c != nil && c.RefreshToken != ""
}

// Token converts the credential to an oauth2.Token.
func (c *Credential) Token() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    tokenType,
		Expiry:       c.Expiry,
	}
}

// WithToken returns a copy of c carrying the fields of tok. An empty refresh
// token in tok keeps the previous one, since Google omits it on refresh.
func (c *Credential) WithToken(tok *oauth2.Token) *Credential {
	next := c.Clone()
	next.AccessToken = tok.AccessToken
	next.TokenType = tok.TokenType
	next.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	return next
}

// Clone returns a deep copy of c.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return &Credential{}
	}
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}
