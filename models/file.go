package models

import (
	"time"

	"gorm.io/gorm"
)

// File is one stored upload, keyed by the SHA-256 of its content.
// Expiration is nil once the bytes are gone; Removed marks a permanent takedown.
type File struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SHA256     string     `gorm:"column:sha256;size:64;uniqueIndex;not null" json:"sha256"`
	Ext        string     `gorm:"column:ext;size:20" json:"ext"`
	MIME       string     `gorm:"column:mime;size:128" json:"mime"`
	Addr       IPAddr     `gorm:"column:addr" json:"addr"`
	UA         string     `gorm:"column:ua;type:text" json:"ua"`
	Removed    bool       `gorm:"column:removed;not null;default:false" json:"removed"`
	NSFWScore  *float64   `gorm:"column:nsfw_score" json:"nsfw_score,omitempty"`
	Expiration *int64     `gorm:"column:expiration;index" json:"expiration,omitempty"`
	MgmtToken  *string    `gorm:"column:mgmt_token;size:64" json:"-"`
	Secret     *string    `gorm:"column:secret;size:64" json:"-"`
	LastVScan  *time.Time `gorm:"column:last_vscan" json:"last_vscan,omitempty"`
	Size       int64      `gorm:"column:size" json:"size"`
	Filename   *string    `gorm:"column:filename;size:255" json:"filename,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName pins the table name so existing databases keep working.
func (File) TableName() string { return "file" }

// BeforeCreate hook ensures timestamps are set even when not provided.
func (f *File) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	return nil
}

// HasBytes reports whether the content is expected on disk.
func (f *File) HasBytes() bool {
	return !f.Removed && f.Expiration != nil
}
