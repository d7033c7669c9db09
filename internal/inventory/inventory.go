// Package inventory loads a YAML device inventory and seeds the registry
// from it.
//
// Example:
//
//	devices:
//	  - hostname: core-sw1.dc1.example.net
//	    device_type: cisco_ios
//	    username: netops
//	    credential_ref: env:DC1
//	  - hostname: 10.20.0.5
//	    device_type: arista_eos
//	    port: 2222
//	    username: admin
//	    password: s3cret
package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gluk-w/devsync/internal/credentials"
	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/session"
)

// Entry is one inventory device.
type Entry struct {
	Hostname      string `yaml:"hostname"`
	DeviceType    string `yaml:"device_type"`
	Port          int    `yaml:"port,omitempty"`
	Username      string `yaml:"username,omitempty"`
	CredentialRef string `yaml:"credential_ref,omitempty"`
	Password      string `yaml:"password,omitempty"`
	Secret        string `yaml:"secret,omitempty"`
}

// File is a parsed inventory.
type File struct {
	Devices []Entry `yaml:"devices"`
}

// Load reads and validates the inventory at path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates an inventory. Unknown keys are rejected.
// Hostnames are normalized.
func Parse(b []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	seen := make(map[string]int, len(f.Devices))
	for i := range f.Devices {
		e := &f.Devices[i]
		e.Hostname = session.NormalizeHostname(e.Hostname)
		if err := session.CheckHostnameSyntax(e.Hostname); err != nil {
			return fmt.Errorf("device %d: %w", i+1, err)
		}
		if prev, ok := seen[e.Hostname]; ok {
			return fmt.Errorf("device %d: duplicate hostname %s (also device %d)", i+1, e.Hostname, prev)
		}
		seen[e.Hostname] = i + 1
		if e.DeviceType == "" {
			return fmt.Errorf("device %d (%s): device_type is required", i+1, e.Hostname)
		}
		if e.Port < 0 || e.Port > 65535 {
			return fmt.Errorf("device %d (%s): port %d out of range", i+1, e.Hostname, e.Port)
		}
		if err := credentials.ValidateRef(e.CredentialRef); err != nil {
			return fmt.Errorf("device %d (%s): %w", i+1, e.Hostname, err)
		}
	}
	return nil
}

// Store is the registry subset Import writes to.
type Store interface {
	FindByHostname(ctx context.Context, hostname string) (*database.Device, error)
	Upsert(ctx context.Context, d *database.Device) error
}

// Sealer seals plain-text secrets onto a record.
type Sealer interface {
	Seal(ctx context.Context, d *database.Device, creds session.Credentials) error
}

// Result counts what Import did.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Import upserts every entry. New records start unconnected; existing records
// keep their connection status and, when the entry carries no password, their
// stored secrets. Import stops at the first failure.
func Import(ctx context.Context, f *File, store Store, sealer Sealer) (Result, error) {
	var res Result
	for _, e := range f.Devices {
		d := database.Device{
			Hostname:      e.Hostname,
			DeviceType:    e.DeviceType,
			Port:          e.Port,
			Username:      e.Username,
			CredentialRef: e.CredentialRef,
		}
		if d.Port == 0 {
			d.Port = 22
		}

		existing, err := store.FindByHostname(ctx, e.Hostname)
		switch {
		case errors.Is(err, database.ErrDeviceNotFound):
			existing = nil
		case err != nil:
			return res, fmt.Errorf("import %s: %w", e.Hostname, err)
		}
		if existing != nil {
			d.IsConnected = existing.IsConnected
			d.LastConnected = existing.LastConnected
			d.LastCheck = existing.LastCheck
			if d.Username == "" {
				d.Username = existing.Username
			}
			if e.Password == "" && existing.CredentialRef == d.CredentialRef {
				d.Password, d.Secret = existing.Password, existing.Secret
			}
		}

		if e.Password != "" {
			creds := session.Credentials{Username: d.Username, Password: e.Password, Secret: e.Secret}
			if err := sealer.Seal(ctx, &d, creds); err != nil {
				return res, fmt.Errorf("import %s: %w", e.Hostname, err)
			}
		}

		if err := store.Upsert(ctx, &d); err != nil {
			return res, fmt.Errorf("import %s: %w", e.Hostname, err)
		}
		if existing != nil {
			res.Updated++
		} else {
			res.Created++
		}
	}
	return res, nil
}
