package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docflow/docflow/internal/access"
	"github.com/docflow/docflow/internal/db/models"
	"github.com/docflow/docflow/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ListOrder string

const (
	OrderDefault      ListOrder = ""
	OrderUploadedDesc ListOrder = "uploaded_desc"
	OrderUploadedAsc  ListOrder = "uploaded_asc"
	OrderTitleAsc     ListOrder = "title_asc"
)

func ParseListOrder(s string) (ListOrder, error) {
	switch o := ListOrder(s); o {
	case OrderDefault, OrderUploadedDesc, OrderUploadedAsc, OrderTitleAsc:
		return o, nil
	}
	return "", fmt.Errorf("%w: unknown order %q", ErrInvalidInput, s)
}

type PermissionView struct {
	ID        uint                `json:"id"`
	UserID    uint                `json:"user_id"`
	CanView   bool                `json:"can_view"`
	CanSign   bool                `json:"can_sign"`
	GrantedAt time.Time           `json:"granted_at"`
	User      *models.UserProfile `json:"user,omitempty"`
}

type SignatureView struct {
	ID       uint                `json:"id"`
	SignerID uint                `json:"signer_id"`
	SignedAt time.Time           `json:"signed_at"`
	Comments string              `json:"comments,omitempty"`
	Signer   *models.UserProfile `json:"signer,omitempty"`
}

type DocumentDetail struct {
	models.Document
	Permissions []PermissionView `json:"permissions"`
	Signatures  []SignatureView  `json:"signatures"`
}

// UserAccess is one line of the "who can access this document" report.
type UserAccess struct {
	UserID   uint   `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	CanView  bool   `json:"can_view"`
	CanSign  bool   `json:"can_sign"`
}

// QueryService answers read-side questions. Visibility is recomputed from
// the current rows on every call.
type QueryService struct {
	db     *gorm.DB
	blobs  storage.BlobStore
	logger *zap.Logger
}

func NewQueryService(db *gorm.DB, blobs storage.BlobStore, logger *zap.Logger) *QueryService {
	return &QueryService{
		db:     db,
		blobs:  blobs,
		logger: logger.With(zap.String("service", "query_service")),
	}
}

// VisibleDocuments returns the documents userID owns plus those shared with
// it for viewing. Each document appears once.
func (qs *QueryService) VisibleDocuments(ctx context.Context, userID uint, order ListOrder) ([]models.Document, error) {
	granted := qs.db.Model(&models.Permission{}).
		Select("document_id").
		Where("user_id = ? AND can_view = ?", userID, true)

	q := qs.db.WithContext(ctx).
		Preload("Owner").
		Where("owner_id = ?", userID).
		Or("id IN (?)", granted)

	switch order {
	case OrderUploadedDesc:
		q = q.Order("uploaded_at DESC").Order("id DESC")
	case OrderUploadedAsc:
		q = q.Order("uploaded_at ASC").Order("id ASC")
	case OrderTitleAsc:
		q = q.Order("title ASC").Order("id ASC")
	default:
		q = q.Order("id ASC")
	}

	var docs []models.Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, storageErr("list documents", err)
	}
	return docs, nil
}

// DocumentDetail returns the document with its grants and signatures. A user
// who may not view the document gets ErrNotFound, same as for a missing one.
func (qs *QueryService) DocumentDetail(ctx context.Context, userID, documentID uint) (*DocumentDetail, error) {
	var detail *DocumentDetail
	err := qs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Preload("Owner").First(&doc, documentID).Error; err != nil {
			return notFound(err)
		}

		var perms []models.Permission
		if err := tx.Preload("User").
			Where("document_id = ?", doc.ID).
			Order("id ASC").
			Find(&perms).Error; err != nil {
			return err
		}
		if !access.CanView(&doc, userID, perms) {
			return ErrNotFound
		}

		var sigs []models.Signature
		if err := tx.Preload("Signer").
			Where("document_id = ?", doc.ID).
			Order("signed_at ASC").Order("id ASC").
			Find(&sigs).Error; err != nil {
			return err
		}

		detail = &DocumentDetail{
			Document:    doc,
			Permissions: make([]PermissionView, 0, len(perms)),
			Signatures:  make([]SignatureView, 0, len(sigs)),
		}
		for _, p := range perms {
			v := PermissionView{
				ID:        p.ID,
				UserID:    p.UserID,
				CanView:   p.CanView,
				CanSign:   p.CanSign,
				GrantedAt: p.GrantedAt,
			}
			if p.User != nil {
				profile := p.User.Profile()
				v.User = &profile
			}
			detail.Permissions = append(detail.Permissions, v)
		}
		for _, s := range sigs {
			v := SignatureView{
				ID:       s.ID,
				SignerID: s.SignerID,
				SignedAt: s.SignedAt,
				Comments: s.Comments,
			}
			if s.Signer != nil {
				profile := s.Signer.Profile()
				v.Signer = &profile
			}
			detail.Signatures = append(detail.Signatures, v)
		}
		return nil
	})
	if err != nil {
		return nil, classify("document detail", err)
	}
	return detail, nil
}

// UsersWithAccess lists every grant on the document with the grantee's
// profile. Grants whose user cannot be loaded are skipped and logged.
func (qs *QueryService) UsersWithAccess(ctx context.Context, documentID uint) ([]UserAccess, error) {
	var perms []models.Permission
	if err := qs.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("id ASC").
		Find(&perms).Error; err != nil {
		return nil, storageErr("list permissions", err)
	}
	if len(perms) == 0 {
		return []UserAccess{}, nil
	}

	ids := make([]uint, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.UserID)
	}
	var users []models.User
	if err := qs.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, storageErr("load users", err)
	}
	byID := make(map[uint]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]UserAccess, 0, len(perms))
	for _, p := range perms {
		u, ok := byID[p.UserID]
		if !ok {
			qs.logger.Warn("Skipping permission of unknown user",
				zap.Uint("doc_id", documentID),
				zap.Uint("user_id", p.UserID),
				zap.Uint("permission_id", p.ID))
			continue
		}
		out = append(out, UserAccess{
			UserID:   u.ID,
			Email:    u.Email,
			FullName: u.FullName,
			CanView:  p.CanView,
			CanSign:  p.CanSign,
		})
	}
	return out, nil
}

// AccessList is UsersWithAccess for a caller who must be able to view the
// document first.
func (qs *QueryService) AccessList(ctx context.Context, userID, documentID uint) ([]UserAccess, error) {
	if _, err := qs.viewable(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return qs.UsersWithAccess(ctx, documentID)
}

// OpenDocument returns the document and a reader over its bytes. The caller
// closes the reader.
func (qs *QueryService) OpenDocument(ctx context.Context, userID, documentID uint) (*models.Document, io.ReadCloser, error) {
	doc, err := qs.viewable(ctx, userID, documentID)
	if err != nil {
		return nil, nil, err
	}

	rc, err := qs.blobs.Open(ctx, doc.Filename)
	if errors.Is(err, storage.ErrBlobNotFound) {
		qs.logger.Error("Document blob missing",
			zap.Uint("doc_id", doc.ID),
			zap.String("handle", doc.Filename))
		return nil, nil, fmt.Errorf("%w: file not found on server", ErrNotFound)
	}
	if err != nil {
		return nil, nil, storageErr("open blob", err)
	}
	return doc, rc, nil
}

func (qs *QueryService) viewable(ctx context.Context, userID, documentID uint) (*models.Document, error) {
	var doc models.Document
	if err := qs.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		return nil, classify("load document", notFound(err))
	}
	perms, err := permissionsFor(qs.db.WithContext(ctx), doc.ID, userID)
	if err != nil {
		return nil, storageErr("load permissions", err)
	}
	if !access.CanView(&doc, userID, perms) {
		return nil, ErrNotFound
	}
	return &doc, nil
}
