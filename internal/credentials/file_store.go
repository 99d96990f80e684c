package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sumeria/sumeria/internal/apperr"
)

// FileStore keeps one token_<sanitized>.json file per account in Dir.
// The directory is created with mode 0700 on first write; files are written
// atomically with mode 0600.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir. Nothing is touched on disk until
// the first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the directory holding the token files.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the token file path for account.
func (s *FileStore) Path(account string) string {
	return filepath.Join(s.dir, FileName(account))
}

// Load reads the record for account. A file whose record names a different
// account is reported as ErrAccountConflict, never returned.
func (s *FileStore) Load(ctx context.Context, account string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(err)
	}
	data, err := os.ReadFile(s.Path(account))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read token file: %w", apperr.ErrFileSystem, err)
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperr.ErrFileSystem, s.Path(account), err)
	}
	switch rec.Account {
	case "":
		rec.Account = account
	case account:
	default:
		return nil, fmt.Errorf("%w: %s holds %s, not %s", ErrAccountConflict, s.Path(account), rec.Account, account)
	}
	return rec, nil
}

// Save writes rec to its token file, replacing any previous content.
func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return apperr.FromContext(err)
	}
	if rec == nil || rec.Account == "" {
		return fmt.Errorf("%w: record has no account", apperr.ErrFileSystem)
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(rec.Account)
	if owner := s.owner(path); owner != "" && owner != rec.Account {
		return fmt.Errorf("%w: %s holds %s, not %s", ErrAccountConflict, path, owner, rec.Account)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("%w: create tokens directory: %w", apperr.ErrFileSystem, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: write token file: %w", apperr.ErrFileSystem, err)
	}
	return nil
}

// Delete removes the token file for account. A file owned by another account
// is left in place, since account has no record of its own.
func (s *FileStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return apperr.FromContext(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(account)
	if owner := s.owner(path); owner != "" && owner != account {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove token file: %w", apperr.ErrFileSystem, err)
	}
	return nil
}

// List returns the accounts with a token file. The account stored inside a
// record takes precedence over the name recovered from the file name.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(err)
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("%w: list token files: %w", apperr.ErrFileSystem, err)
	}

	accounts := make([]string, 0, len(matches))
	for _, path := range matches {
		accounts = append(accounts, accountFromFile(path))
	}
	slices.Sort(accounts)
	return slices.Compact(accounts), nil
}

// owner returns the account stored in the record at path, or "" when the file
// is missing, unreadable or has no account.
func (s *FileStore) owner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return ""
	}
	return rec.Account
}

func accountFromFile(path string) string {
	if data, err := os.ReadFile(path); err == nil {
		if rec, err := DecodeRecord(data); err == nil && rec.Account != "" {
			return rec.Account
		}
	}
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), filePrefix), fileSuffix)
	return Unsanitize(name)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
