package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// RecordVersion is the current TokenRecord schema version.
// Version 0 is the unversioned authorized-user layout written by older tooling.
const RecordVersion = 1

// ErrUnsupportedVersion is returned when a record was written by a newer schema.
var ErrUnsupportedVersion = errors.New("unsupported token record version")

// Record is the persisted form of a credential.
type Record struct {
	Version      int       `json:"version"`
	Account      string    `json:"account"`
	Provider     Provider  `json:"provider,omitempty"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	TokenURI     string    `json:"token_uri,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// NewRecord builds a current-version record for account from c.
func NewRecord(account string, c *Credential) *Record {
	return &Record{
		Version:      RecordVersion,
		Account:      account,
		Provider:     c.Provider,
		Token:        c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		TokenURI:     c.TokenURI,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       slices.Clone(c.Scopes),
		Expiry:       c.Expiry.UTC(),
	}
}

// Credential converts the record into its in-memory form.
func (r *Record) Credential() *Credential {
	tokenURI := r.TokenURI
	if tokenURI == "" {
		tokenURI = DefaultTokenURI
	}
	return &Credential{
		AccessToken:  r.Token,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Expiry:       r.Expiry,
		Scopes:       slices.Clone(r.Scopes),
		Provider:     r.Provider,
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		TokenURI:     tokenURI,
	}
}

// legacyRecord accepts the scopes field either as a list or as a single
// space separated string, which older authorized-user files used.
type legacyRecord struct {
	Record
	Scopes json.RawMessage `json:"scopes,omitempty"`
}

// DecodeRecord parses a record and checks its version.
func DecodeRecord(data []byte) (*Record, error) {
	var raw legacyRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode token record: %w", err)
	}
	rec := raw.Record
	if rec.Version > RecordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	if len(raw.Scopes) > 0 {
		scopes, err := decodeScopes(raw.Scopes)
		if err != nil {
			return nil, err
		}
		rec.Scopes = scopes
	}
	return &rec, nil
}

func decodeScopes(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("failed to decode token record scopes: %w", err)
	}
	return strings.Fields(joined), nil
}

// EncodeRecord serializes rec, stamping the current version.
func EncodeRecord(rec *Record) ([]byte, error) {
	out := *rec
	out.Version = RecordVersion
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode token record: %w", err)
	}
	return data, nil
}
