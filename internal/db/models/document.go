package models

import "time"

// Document is the metadata of an uploaded file. The bytes live in the blob
// store under Filename; OwnerID is fixed at creation.
type Document struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Title            string    `gorm:"not null" json:"title"`
	Description      string    `json:"description"`
	Filename         string    `gorm:"uniqueIndex;not null" json:"filename"`
	OriginalFilename string    `gorm:"not null" json:"original_filename"`
	ContentType      string    `json:"content_type"`
	SizeBytes        int64     `gorm:"not null;default:0" json:"size_bytes"`
	UploadedAt       time.Time `gorm:"not null;index" json:"upload_date"`
	UpdatedAt        time.Time `json:"updated_at"`
	OwnerID          uint      `gorm:"not null;index" json:"owner_id"`

	Owner       *User        `gorm:"foreignKey:OwnerID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"owner,omitempty"`
	Permissions []Permission `gorm:"foreignKey:DocumentID" json:"-"`
	Signatures  []Signature  `gorm:"foreignKey:DocumentID" json:"-"`
}
