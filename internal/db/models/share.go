package models

import "time"

// Permission is a grant from a document's owner to another user. There is at
// most one row per (document, user).
type Permission struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;uniqueIndex:idx_permission_document_user" json:"document_id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_permission_document_user;index" json:"user_id"`
	CanView    bool      `gorm:"not null" json:"can_view"`
	CanSign    bool      `gorm:"not null" json:"can_sign"`
	GrantedAt  time.Time `gorm:"not null" json:"granted_at"`

	Document *Document `gorm:"foreignKey:DocumentID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"-"`
	User     *User     `gorm:"foreignKey:UserID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"user,omitempty"`
}
