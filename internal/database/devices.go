package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDeviceNotFound is returned when no device row matches a hostname.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceStore is the durable device registry. Each method is atomic on its
// own; callers get no isolation across calls.
type DeviceStore struct {
	db *gorm.DB
}

// NewDeviceStore returns a DeviceStore backed by db.
func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// ListAll returns every registered device ordered by hostname.
func (s *DeviceStore) ListAll(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := s.db.WithContext(ctx).Order("hostname").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// FindByHostname returns the device with the exact hostname.
func (s *DeviceStore) FindByHostname(ctx context.Context, hostname string) (*Device, error) {
	var d Device
	err := s.db.WithContext(ctx).Where("hostname = ?", hostname).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find device %s: %w", hostname, err)
	}
	return &d, nil
}

// FindByHostnameContains returns devices whose hostname contains substr,
// compared case-insensitively. An empty substr matches nothing.
func (s *DeviceStore) FindByHostnameContains(ctx context.Context, substr string) ([]Device, error) {
	substr = strings.ToLower(strings.TrimSpace(substr))
	if substr == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(substr) + "%"

	var devices []Device
	err := s.db.WithContext(ctx).
		Where(`LOWER(hostname) LIKE ? ESCAPE '\'`, pattern).
		Order("hostname").
		Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("search devices %q: %w", substr, err)
	}
	return devices, nil
}

// Upsert inserts d or updates the existing row with the same hostname. On
// return d reflects the stored row.
func (s *DeviceStore) Upsert(ctx context.Context, d *Device) error {
	db := s.db.WithContext(ctx)
	row := *d
	row.ID = 0
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hostname"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"device_type", "port", "username", "credential_ref", "password", "secret",
			"is_connected", "last_connected", "last_check", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.Hostname, err)
	}

	// The conflict path does not report the existing primary key on every
	// driver, so reload.
	var stored Device
	if err := db.Where("hostname = ?", d.Hostname).First(&stored).Error; err != nil {
		return fmt.Errorf("reload device %s: %w", d.Hostname, err)
	}
	*d = stored
	return nil
}

// Delete removes the device with the given hostname. Deleting an absent
// device is not an error.
func (s *DeviceStore) Delete(ctx context.Context, hostname string) error {
	if err := s.db.WithContext(ctx).Where("hostname = ?", hostname).Delete(&Device{}).Error; err != nil {
		return fmt.Errorf("delete device %s: %w", hostname, err)
	}
	return nil
}

// UpdateConnectionStatus records the outcome of a connection attempt or
// health check. last_connected only moves forward when connected is true.
func (s *DeviceStore) UpdateConnectionStatus(ctx context.Context, hostname string, connected bool, at time.Time) error {
	updates := map[string]interface{}{
		"is_connected": connected,
		"last_check":   at,
	}
	if connected {
		updates["last_connected"] = at
	}
	err := s.db.WithContext(ctx).Model(&Device{}).Where("hostname = ?", hostname).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update status for %s: %w", hostname, err)
	}
	return nil
}

// Count returns the number of registered devices.
func (s *DeviceStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Device{}).Count(&n).Error
	return n, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
