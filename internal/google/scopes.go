package google

import (
	"slices"

	"github.com/sumeria/sumeria/internal/credentials"
)

// Gmail scopes requested by default.
var GmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.modify",
}

// Calendar scopes requested by default.
var CalendarScopes = []string{
	"https://www.googleapis.com/auth/calendar",
}

// DefaultScopes returns a copy of the default scopes of provider, or nil for
// an unknown provider.
func DefaultScopes(provider credentials.Provider) []string {
	switch provider {
	case credentials.ProviderGmail:
		return slices.Clone(GmailScopes)
	case credentials.ProviderGoogleCalendar:
		return slices.Clone(CalendarScopes)
	}
	return nil
}
