// Package credentials resolves the secrets used to open device sessions and
// seals operator-supplied secrets onto registry records.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gluk-w/devsync/internal/crypto"
	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/session"
)

const (
	// RefStored selects the sealed password and secret columns of the record.
	RefStored = "stored"
	// envPrefix selects NAME_USERNAME / NAME_PASSWORD / NAME_SECRET.
	envPrefix = "env:"
)

// Manager resolves credential references. The zero value reads the process
// environment.
type Manager struct {
	// LookupEnv replaces os.LookupEnv, for tests.
	LookupEnv func(string) (string, bool)
}

// NewManager returns a Manager reading the process environment.
func NewManager() *Manager {
	return &Manager{LookupEnv: os.LookupEnv}
}

// ValidateRef reports whether ref is a reference the Manager understands.
func ValidateRef(ref string) error {
	switch {
	case ref == "" || ref == RefStored:
		return nil
	case strings.HasPrefix(ref, envPrefix):
		if envName(ref) == "" {
			return fmt.Errorf("%w: empty env reference", session.ErrCredentials)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown credential reference %q", session.ErrCredentials, ref)
	}
}

// Resolve returns the credentials for d according to d.CredentialRef.
func (m *Manager) Resolve(_ context.Context, d database.Device) (session.Credentials, error) {
	if err := ValidateRef(d.CredentialRef); err != nil {
		return session.Credentials{}, err
	}
	if strings.HasPrefix(d.CredentialRef, envPrefix) {
		return m.fromEnv(d)
	}
	return fromRecord(d)
}

func (m *Manager) fromEnv(d database.Device) (session.Credentials, error) {
	name := envName(d.CredentialRef)
	lookup := m.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	creds := session.Credentials{Username: d.Username}
	if v, ok := lookup(name + "_USERNAME"); ok && v != "" {
		creds.Username = v
	}
	pw, ok := lookup(name + "_PASSWORD")
	if !ok || pw == "" {
		return session.Credentials{}, fmt.Errorf("%w: %s_PASSWORD is not set", session.ErrCredentials, name)
	}
	creds.Password = pw
	creds.Secret, _ = lookup(name + "_SECRET")

	if creds.Username == "" {
		return session.Credentials{}, fmt.Errorf("%w: no username for %s", session.ErrCredentials, d.Hostname)
	}
	return creds, nil
}

func fromRecord(d database.Device) (session.Credentials, error) {
	if d.Username == "" {
		return session.Credentials{}, fmt.Errorf("%w: no username stored for %s", session.ErrCredentials, d.Hostname)
	}
	pw, err := crypto.Decrypt(d.Password)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("%w: password for %s: %v", session.ErrCredentials, d.Hostname, err)
	}
	secret, err := crypto.Decrypt(d.Secret)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("%w: secret for %s: %v", session.ErrCredentials, d.Hostname, err)
	}
	return session.Credentials{Username: d.Username, Password: pw, Secret: secret}, nil
}

// Seal records creds on d. Stored references get their password and secret
// encrypted onto the record; env references only keep the username.
func (m *Manager) Seal(_ context.Context, d *database.Device, creds session.Credentials) error {
	if err := ValidateRef(d.CredentialRef); err != nil {
		return err
	}
	d.Username = creds.Username
	if strings.HasPrefix(d.CredentialRef, envPrefix) {
		d.Password, d.Secret = "", ""
		return nil
	}

	pw, err := crypto.Encrypt(creds.Password)
	if err != nil {
		return fmt.Errorf("seal password for %s: %w", d.Hostname, err)
	}
	secret, err := crypto.Encrypt(creds.Secret)
	if err != nil {
		return fmt.Errorf("seal secret for %s: %w", d.Hostname, err)
	}
	d.Password, d.Secret = pw, secret
	return nil
}

func envName(ref string) string {
	return strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(ref, envPrefix)))
}
