package models

import (
	"crypto/sha256"
	"encoding/hex"

	"gorm.io/gorm"
)

// URL is a shortened link. Rows are created once and never change.
// Targets can be longer than any portable index allows, so uniqueness is
// enforced on the SHA-256 of the target instead.
type URL struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	URL    string `gorm:"column:url;type:text;not null" json:"url"`
	Digest string `gorm:"column:digest;size:64;uniqueIndex;not null" json:"-"`
}

func (URL) TableName() string { return "url" }

// URLDigest is the lookup key for target.
func URLDigest(target string) string {
	sum := sha256.Sum256([]byte(target))
	return hex.EncodeToString(sum[:])
}

func (u *URL) BeforeCreate(tx *gorm.DB) error {
	u.Digest = URLDigest(u.URL)
	return nil
}
