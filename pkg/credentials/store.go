// Package credentials persists generated database credentials, one flat
// key:value file per site. The file's existence is the sole idempotency
// marker: a backend resource without a matching file is an unrecoverable
// conflict, and a file without a backend resource is a stale record.
package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors for the store contract.
var (
	// ErrAlreadyPersisted is returned when Persist is called twice for the
	// same key. The existing file is never overwritten.
	ErrAlreadyPersisted = errors.New("credential record already persisted")

	// ErrNotFound is returned by Load when no record exists for the key.
	ErrNotFound = errors.New("credential record not found")

	// ErrCorruptRecord is returned by Load when the record file exists but
	// the expected fields cannot be parsed.
	ErrCorruptRecord = errors.New("credential record is corrupt")
)

const (
	usernamePrefix = "sf_"
	passwordLength = 32
	passwordChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Credential is the generated secret bound 1:1 to a site's database.
type Credential struct {
	// Site is the owning site's domain.
	Site string

	// Database is the database name the credential grants access to.
	Database string

	// Username is the generated database username.
	Username string

	// Password is the generated password. Alphanumeric only, so it can pass
	// through shell command lines without quoting hazards.
	Password string

	// Host is the database host the credential is valid for.
	Host string

	// CreatedAt is when the credential was generated.
	CreatedAt time.Time
}

// FileStore persists credentials under a single directory, one file per
// resource key, permission-restricted to the owning account.
type FileStore struct {
	dir string
}

// NewFileStore creates the store, ensuring the directory exists with 0700.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("credential directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the record file path for a resource key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".cred")
}

// Exists reports whether a credential record exists for the key.
func (s *FileStore) Exists(key string) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Generate produces a fresh credential: a fixed-prefix username with a
// random numeric suffix and a random alphanumeric password.
func Generate(site, database, host string) (Credential, error) {
	suffix, err := randomDigits(6)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to generate username: %w", err)
	}
	password, err := randomPassword(passwordLength)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to generate password: %w", err)
	}
	return Credential{
		Site:      site,
		Database:  database,
		Username:  usernamePrefix + suffix,
		Password:  password,
		Host:      host,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Persist writes the credential record exactly once. A second call for the
// same key fails with ErrAlreadyPersisted; callers must check Exists first
// and route through the idempotency guard.
func (s *FileStore) Persist(key string, cred Credential) error {
	path := s.Path(key)

	// O_EXCL makes creation the atomic exactly-once check.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyPersisted, path)
		}
		return fmt.Errorf("failed to create credential record: %w", err)
	}

	if _, err := f.WriteString(format(cred)); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write credential record: %w", err)
	}
	return f.Close()
}

// Replace overwrites a stale record. Only called after the guard resolved
// the key to create and the new backend resource was successfully created.
func (s *FileStore) Replace(key string, cred Credential) error {
	tmp := s.Path(key) + ".tmp"
	if err := os.WriteFile(tmp, []byte(format(cred)), 0600); err != nil {
		return fmt.Errorf("failed to write credential record: %w", err)
	}
	return os.Rename(tmp, s.Path(key))
}

// Load parses a persisted record. Returns ErrNotFound when absent and
// ErrCorruptRecord when a required field is missing or unparseable.
func (s *FileStore) Load(key string) (Credential, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Credential{}, fmt.Errorf("failed to read credential record: %w", err)
	}

	fields := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return Credential{}, fmt.Errorf("%w: malformed line %q", ErrCorruptRecord, line)
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	cred := Credential{
		Site:     fields["site"],
		Database: fields["database"],
		Username: fields["username"],
		Password: fields["password"],
		Host:     fields["host"],
	}
	if cred.Site == "" || cred.Database == "" || cred.Username == "" || cred.Password == "" || cred.Host == "" {
		return Credential{}, fmt.Errorf("%w: missing required field", ErrCorruptRecord)
	}
	if ts := fields["created_at"]; ts != "" {
		created, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: bad created_at %q", ErrCorruptRecord, ts)
		}
		cred.CreatedAt = created
	}
	return cred, nil
}

// format renders the flat key:value record block.
func format(cred Credential) string {
	var b strings.Builder
	fmt.Fprintf(&b, "site: %s\n", cred.Site)
	fmt.Fprintf(&b, "database: %s\n", cred.Database)
	fmt.Fprintf(&b, "username: %s\n", cred.Username)
	fmt.Fprintf(&b, "password: %s\n", cred.Password)
	fmt.Fprintf(&b, "host: %s\n", cred.Host)
	fmt.Fprintf(&b, "created_at: %s\n", cred.CreatedAt.Format(time.RFC3339))
	return b.String()
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%d", d.Int64())
	}
	return b.String(), nil
}

func randomPassword(n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(passwordChars)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordChars[idx.Int64()])
	}
	return b.String(), nil
}
