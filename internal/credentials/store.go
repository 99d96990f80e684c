// Package credentials persists per-account OAuth2 token records.
//
// A Store holds the records of one service. FileStore keeps one JSON file per
// account in a directory; SQLStore keeps them in a SQLite table. Both are safe
// for concurrent use.
package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/sumeria/sumeria/internal/apperr"
)

// ErrNotFound is returned by Store.Load when the account has no record.
var ErrNotFound = fmt.Errorf("%w: no stored credential", apperr.ErrAccountNotFound)

// ErrAccountConflict is returned when two accounts share a token file name
// and the file already holds the other account's record.
var ErrAccountConflict = fmt.Errorf("%w: token file belongs to another account", apperr.ErrFileSystem)

// Store persists token records keyed by account identifier.
type Store interface {
	// Load returns the record for account or ErrNotFound.
	Load(ctx context.Context, account string) (*Record, error)
	// Save creates or replaces the record for rec.Account.
	Save(ctx context.Context, rec *Record) error
	// Delete removes the record for account. Deleting a missing record is not an error.
	Delete(ctx context.Context, account string) error
	// List returns the accounts that have a record, sorted.
	List(ctx context.Context) ([]string, error)
}

const (
	filePrefix = "token_"
	fileSuffix = ".json"
)

// Sanitize maps an account identifier to the filename-safe form used in
// token file names: "@" becomes "_at_" and "." becomes "_".
func Sanitize(account string) string {
	return strings.ReplaceAll(strings.ReplaceAll(account, "@", "_at_"), ".", "_")
}

// Unsanitize reverses Sanitize on a best-effort basis. "_at_" is restored
// before "_", so identifiers whose local part contains "_" do not round trip.
// Stores prefer the account stored inside the record for that reason.
func Unsanitize(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "_at_", "@"), "_", ".")
}

// FileName returns the token file name for account.
func FileName(account string) string {
	return filePrefix + Sanitize(account) + fileSuffix
}
