// Package access decides what a user may do with a document. Every decision
// is derived from the document and the permission rows passed in; nothing is
// cached, so a revoked grant takes effect on the next request.
package access

import "github.com/docflow/docflow/internal/db/models"

type Decision struct {
	View   bool
	Sign   bool
	Manage bool
}

// Evaluate computes all capabilities of userID on doc. Rows in perms that
// belong to another document or another user are ignored.
func Evaluate(doc *models.Document, userID uint, perms []models.Permission) Decision {
	if doc == nil {
		return Decision{}
	}
	if doc.OwnerID == userID {
		return Decision{View: true, Sign: true, Manage: true}
	}

	var d Decision
	for _, p := range perms {
		if p.DocumentID != doc.ID || p.UserID != userID {
			continue
		}
		d.View = d.View || p.CanView
		d.Sign = d.Sign || p.CanSign
	}
	return d
}

func CanView(doc *models.Document, userID uint, perms []models.Permission) bool {
	return Evaluate(doc, userID, perms).View
}

func CanSign(doc *models.Document, userID uint, perms []models.Permission) bool {
	return Evaluate(doc, userID, perms).Sign
}

// CanManage reports whether userID may share, update or delete doc. Only the
// owner can; management is never delegated through grants.
func CanManage(doc *models.Document, userID uint) bool {
	return doc != nil && doc.OwnerID == userID
}
