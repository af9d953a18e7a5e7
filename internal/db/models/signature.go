package models

import "time"

type Signature struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;uniqueIndex:idx_signature_document_signer" json:"document_id"`
	SignerID   uint      `gorm:"not null;uniqueIndex:idx_signature_document_signer;index" json:"signer_id"`
	SignedAt   time.Time `gorm:"not null" json:"signed_at"`
	Comments   string    `json:"comments,omitempty"`

	Document *Document `gorm:"foreignKey:DocumentID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"-"`
	Signer   *User     `gorm:"foreignKey:SignerID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"signer,omitempty"`
}
