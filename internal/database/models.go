package database

import "time"

type Device struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Hostname      string    `gorm:"uniqueIndex;not null;size:253" json:"hostname"`
	DeviceType    string    `gorm:"not null" json:"device_type"`
	Port          int       `gorm:"not null;default:22" json:"port"`
	Username      string    `json:"username"`
	CredentialRef string    `gorm:"default:''" json:"credential_ref"` // "" or "stored": sealed columns below; "env:NAME": environment
	Password      string    `json:"-"`                                // Fernet-encrypted
	Secret        string    `json:"-"`                                // Fernet-encrypted enable secret
	IsConnected   bool      `gorm:"not null;default:false" json:"is_connected"`
	LastConnected time.Time `json:"last_connected"`
	LastCheck     time.Time `json:"last_check"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
