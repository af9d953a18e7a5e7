package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docflow/docflow/internal/access"
	"github.com/docflow/docflow/internal/db/models"
	"github.com/docflow/docflow/internal/storage"
	"github.com/docflow/docflow/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const blobCleanupTimeout = 30 * time.Second

// DocumentService runs every state change on documents: upload, share,
// sign, update and delete. Each call is one unit of work; preconditions are
// checked inside the same transaction as the write they guard.
type DocumentService struct {
	db             *gorm.DB
	blobs          storage.BlobStore
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	maxUploadBytes int64
	now            func() time.Time
}

// FileInput is an incoming file. Name is only kept as metadata.
type FileInput struct {
	Name        string
	ContentType string
	Content     io.Reader
}

type UploadInput struct {
	Title       string
	Description string
	File        *FileInput
}

// DocumentPatch lists the fields an owner may change. Nil fields are left as
// they are; an empty Description clears it.
type DocumentPatch struct {
	Title       *string
	Description *string
	File        *FileInput
}

func NewDocumentService(db *gorm.DB, blobs storage.BlobStore, logger *zap.Logger, metrics *metrics.MetricsCollector, maxUploadBytes int64) *DocumentService {
	return &DocumentService{
		db:             db,
		blobs:          blobs,
		logger:         logger.With(zap.String("service", "document_service")),
		metrics:        metrics,
		maxUploadBytes: maxUploadBytes,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (ds *DocumentService) Upload(ctx context.Context, ownerID uint, in UploadInput) (doc *models.Document, err error) {
	start := time.Now()
	defer func() { ds.metrics.Observe("upload", start, err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if err := validateFile(in.File); err != nil {
		return nil, err
	}

	obj, err := ds.putBlob(ctx, in.File)
	if err != nil {
		return nil, err
	}

	doc = &models.Document{
		Title:            title,
		Description:      strings.TrimSpace(in.Description),
		Filename:         obj.Handle,
		OriginalFilename: originalName(in.File.Name),
		ContentType:      in.File.ContentType,
		SizeBytes:        obj.Size,
		UploadedAt:       ds.now(),
		OwnerID:          ownerID,
	}
	if err := ds.db.WithContext(ctx).Omit(clause.Associations).Create(doc).Error; err != nil {
		ds.discardBlob(obj.Handle, "upload rolled back")
		return nil, storageErr("create document", err)
	}

	ds.metrics.ObserveSize("upload", obj.Size)
	ds.logger.Info("Document uploaded",
		zap.Uint("doc_id", doc.ID),
		zap.Uint("owner_id", ownerID),
		zap.Int64("size", obj.Size))
	return doc, nil
}

// Share sets both capabilities of targetUserID on the document, replacing any
// previous grant. Sharing with the owner writes nothing and returns the
// owner's implicit full grant.
func (ds *DocumentService) Share(ctx context.Context, requesterID, documentID, targetUserID uint, canView, canSign bool) (perm *models.Permission, err error) {
	start := time.Now()
	defer func() { ds.metrics.Observe("share", start, err) }()

	err = ds.inTx(ctx, "share document", func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, documentID, "SHARE")
		if err != nil {
			return err
		}
		if !access.CanManage(doc, requesterID) {
			return ErrForbidden
		}

		var target models.User
		if err := tx.First(&target, targetUserID).Error; err != nil {
			return notFound(err)
		}

		if target.ID == doc.OwnerID {
			perm = &models.Permission{
				DocumentID: doc.ID,
				UserID:     doc.OwnerID,
				CanView:    true,
				CanSign:    true,
				GrantedAt:  doc.UploadedAt,
				User:       &target,
			}
			return nil
		}

		row := models.Permission{
			DocumentID: doc.ID,
			UserID:     target.ID,
			CanView:    canView,
			CanSign:    canSign,
			GrantedAt:  ds.now(),
		}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"can_view", "can_sign"}),
		}).Create(&row).Error; err != nil {
			return err
		}

		var saved models.Permission
		if err := tx.Preload("User").
			Where("document_id = ? AND user_id = ?", doc.ID, target.ID).
			First(&saved).Error; err != nil {
			return err
		}
		perm = &saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	ds.logger.Info("Permission granted",
		zap.Uint("doc_id", documentID),
		zap.Uint("user_id", targetUserID),
		zap.Bool("can_view", perm.CanView),
		zap.Bool("can_sign", perm.CanSign))
	return perm, nil
}

// RevokePermission removes the grant of targetUserID on the document.
func (ds *DocumentService) RevokePermission(ctx context.Context, requesterID, documentID, targetUserID uint) (err error) {
	start := time.Now()
	defer func() { ds.metrics.Observe("revoke", start, err) }()

	err = ds.inTx(ctx, "revoke permission", func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, documentID, "SHARE")
		if err != nil {
			return err
		}
		if !access.CanManage(doc, requesterID) {
			return ErrForbidden
		}
		res := tx.Where("document_id = ? AND user_id = ?", doc.ID, targetUserID).Delete(&models.Permission{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	ds.logger.Info("Permission revoked", zap.Uint("doc_id", documentID), zap.Uint("user_id", targetUserID))
	return nil
}

// Sign records signerID's signature. At most one signature per signer and
// document ever succeeds; a lost race on the unique index is reported as
// ErrAlreadySigned like any other repeat.
func (ds *DocumentService) Sign(ctx context.Context, signerID, documentID uint, comments string) (sig *models.Signature, err error) {
	start := time.Now()
	defer func() { ds.metrics.Observe("sign", start, err) }()

	err = ds.inTx(ctx, "sign document", func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, documentID, "SHARE")
		if err != nil {
			return err
		}
		perms, err := permissionsFor(tx, doc.ID, signerID)
		if err != nil {
			return err
		}
		if !access.CanSign(doc, signerID, perms) {
			return ErrForbidden
		}

		var existing int64
		if err := tx.Model(&models.Signature{}).
			Where("document_id = ? AND signer_id = ?", doc.ID, signerID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadySigned
		}

		row := models.Signature{
			DocumentID: doc.ID,
			SignerID:   signerID,
			SignedAt:   ds.now(),
			Comments:   strings.TrimSpace(comments),
		}
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadySigned
			}
			return err
		}
		if err := tx.Preload("Signer").First(&row, row.ID).Error; err != nil {
			return err
		}
		sig = &row
		return nil
	})
	if err != nil {
		return nil, err
	}

	ds.logger.Info("Document signed", zap.Uint("doc_id", documentID), zap.Uint("signer_id", signerID))
	return sig, nil
}

// Update applies patch. A replacement file is written to the blob store
// before the transaction; the row is switched to the new handle inside it and
// the old blob is removed only after commit.
func (ds *DocumentService) Update(ctx context.Context, requesterID, documentID uint, patch DocumentPatch) (doc *models.Document, err error) {
	start := time.Now()
	defer func() { ds.metrics.Observe("update", start, err) }()

	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, invalid("title must not be empty")
	}
	if patch.File != nil {
		if err := validateFile(patch.File); err != nil {
			return nil, err
		}
	}

	// Reject callers before any bytes are written.
	if _, err := ds.loadForManage(ctx, requesterID, documentID); err != nil {
		return nil, err
	}

	var obj *storage.Object
	if patch.File != nil {
		o, err := ds.putBlob(ctx, patch.File)
		if err != nil {
			return nil, err
		}
		obj = &o
	}

	var replaced string
	err = ds.inTx(ctx, "update document", func(tx *gorm.DB) error {
		current, err := loadDocument(tx, documentID, "UPDATE")
		if err != nil {
			return err
		}
		if !access.CanManage(current, requesterID) {
			return ErrForbidden
		}

		updates := map[string]any{}
		if patch.Title != nil {
			updates["title"] = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			updates["description"] = strings.TrimSpace(*patch.Description)
		}
		if obj != nil {
			updates["filename"] = obj.Handle
			updates["original_filename"] = originalName(patch.File.Name)
			updates["content_type"] = patch.File.ContentType
			updates["size_bytes"] = obj.Size
			replaced = current.Filename
		}
		if len(updates) > 0 {
			updates["updated_at"] = ds.now()
			if err := tx.Model(current).Omit(clause.Associations).Updates(updates).Error; err != nil {
				return err
			}
		}

		var fresh models.Document
		if err := tx.Preload("Owner").First(&fresh, documentID).Error; err != nil {
			return err
		}
		doc = &fresh
		return nil
	})
	if err != nil {
		if obj != nil {
			ds.discardBlob(obj.Handle, "update rolled back")
		}
		return nil, err
	}

	if replaced != "" {
		ds.discardBlob(replaced, "file replaced")
		ds.metrics.ObserveSize("update", obj.Size)
	}
	ds.logger.Info("Document updated", zap.Uint("doc_id", documentID), zap.Bool("file_replaced", replaced != ""))
	return doc, nil
}

// Delete removes the document with its permissions and signatures in one
// transaction, children first. The blob goes last, after commit; failing to
// remove it only leaks bytes and is logged.
func (ds *DocumentService) Delete(ctx context.Context, requesterID, documentID uint) (err error) {
	start := time.Now()
	defer func() { ds.metrics.Observe("delete", start, err) }()

	var handle string
	err = ds.inTx(ctx, "delete document", func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, documentID, "UPDATE")
		if err != nil {
			return err
		}
		if !access.CanManage(doc, requesterID) {
			return ErrForbidden
		}

		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.Permission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.Signature{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Document{}, doc.ID).Error; err != nil {
			return err
		}
		handle = doc.Filename
		return nil
	})
	if err != nil {
		return err
	}

	ds.discardBlob(handle, "document deleted")
	ds.logger.Info("Document deleted", zap.Uint("doc_id", documentID), zap.Uint("owner_id", requesterID))
	return nil
}

func (ds *DocumentService) loadForManage(ctx context.Context, requesterID, documentID uint) (*models.Document, error) {
	var doc models.Document
	if err := ds.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		return nil, notFound(err)
	}
	if !access.CanManage(&doc, requesterID) {
		return nil, ErrForbidden
	}
	return &doc, nil
}

func (ds *DocumentService) putBlob(ctx context.Context, f *FileInput) (storage.Object, error) {
	lr := &limitedReader{r: f.Content, max: ds.maxUploadBytes}
	obj, err := ds.blobs.Put(ctx, lr, f.Name, f.ContentType)
	if lr.exceeded {
		if err == nil {
			ds.discardBlob(obj.Handle, "upload too large")
		}
		return storage.Object{}, ErrFileTooLarge
	}
	if err != nil {
		return storage.Object{}, storageErr("store blob", err)
	}
	return obj, nil
}

// discardBlob deletes a blob that no row references (anymore). It runs on a
// fresh context because the request context may already be cancelled.
func (ds *DocumentService) discardBlob(handle, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), blobCleanupTimeout)
	defer cancel()

	err := ds.blobs.Delete(ctx, handle)
	switch {
	case err == nil:
		ds.logger.Debug("Blob removed", zap.String("handle", handle), zap.String("reason", reason))
	case errors.Is(err, storage.ErrBlobNotFound):
		ds.logger.Debug("Blob already gone", zap.String("handle", handle), zap.String("reason", reason))
	default:
		ds.logger.Warn("Blob cleanup failed, leaving orphan",
			zap.String("handle", handle),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (ds *DocumentService) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	return classify(op, ds.db.WithContext(ctx).Transaction(fn))
}

// loadDocument reads a document row, locking it with the given strength
// ("SHARE" or "UPDATE") where the database supports row locks.
func loadDocument(tx *gorm.DB, id uint, lock string) (*models.Document, error) {
	var doc models.Document
	if err := tx.Clauses(clause.Locking{Strength: lock}).First(&doc, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func permissionsFor(tx *gorm.DB, documentID, userID uint) ([]models.Permission, error) {
	var perms []models.Permission
	err := tx.Where("document_id = ? AND user_id = ?", documentID, userID).Find(&perms).Error
	return perms, err
}

func validateFile(f *FileInput) error {
	if f == nil || f.Content == nil || strings.TrimSpace(f.Name) == "" {
		return invalid("file is required")
	}
	return nil
}

func originalName(name string) string {
	return filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
}

// notFound maps a missing row to ErrNotFound and leaves other errors alone.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// classify passes error kinds through and wraps everything else, which can
// only come from the database or the blob store, as a StorageError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotFound, ErrForbidden, ErrAlreadySigned, ErrInvalidInput, ErrStorage, ErrUnauthorized} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return storageErr(op, err)
}

type limitedReader struct {
	r        io.Reader
	max      int64
	n        int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.max > 0 && l.n > l.max {
		l.exceeded = true
		return n, ErrFileTooLarge
	}
	return n, err
}
