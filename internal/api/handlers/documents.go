package handlers

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/docflow/docflow/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipartOverhead is what a form may add on top of the file itself.
const multipartOverhead = 1 << 20

type DocumentHandler struct {
	documents    *services.DocumentService
	queries      *services.QueryService
	logger       *zap.Logger
	maxBodyBytes int64
}

func NewDocumentHandler(
	documents *services.DocumentService,
	queries *services.QueryService,
	logger *zap.Logger,
	maxUploadBytes int64,
) *DocumentHandler {
	var maxBody int64
	if maxUploadBytes > 0 {
		maxBody = maxUploadBytes + multipartOverhead
	}
	return &DocumentHandler{
		documents:    documents,
		queries:      queries,
		logger:       logger.With(zap.String("handler", "document")),
		maxBodyBytes: maxBody,
	}
}

type shareRequest struct {
	UserID  uint  `json:"user_id_to_grant" binding:"required"`
	CanView *bool `json:"can_view"`
	CanSign *bool `json:"can_sign"`
}

type signRequest struct {
	Comments string `json:"comments"`
}

func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	order, err := services.ParseListOrder(c.Query("order"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	docs, err := h.queries.VisibleDocuments(c.Request.Context(), currentUser(c), order)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	h.limitBody(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.formError(c, err, "a file is required")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Open uploaded file failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer f.Close()

	doc, err := h.documents.Upload(c.Request.Context(), currentUser(c), services.UploadInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		File:        fileInput(fileHeader, f),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.queries.DocumentDetail(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateDocument applies the form fields that are present. An absent field
// is left alone; a present but empty description clears it.
func (h *DocumentHandler) UpdateDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.limitBody(c)

	var patch services.DocumentPatch
	fileHeader, err := c.FormFile("file")
	switch {
	case err == nil:
		f, err := fileHeader.Open()
		if err != nil {
			h.logger.Error("Open uploaded file failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		defer f.Close()
		patch.File = fileInput(fileHeader, f)
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		h.formError(c, err, "malformed form")
		return
	}
	if v, ok := c.GetPostForm("title"); ok {
		patch.Title = &v
	}
	if v, ok := c.GetPostForm("description"); ok {
		patch.Description = &v
	}

	doc, err := h.documents.Update(c.Request.Context(), currentUser(c), id, patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, rc, err := h.queries.OpenDocument(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer rc.Close()

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, doc.SizeBytes, contentType, rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalFilename}),
	})
}

func (h *DocumentHandler) ShareDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id_to_grant is required")
		return
	}
	canView, canSign := true, false
	if req.CanView != nil {
		canView = *req.CanView
	}
	if req.CanSign != nil {
		canSign = *req.CanSign
	}

	perm, err := h.documents.Share(c.Request.Context(), currentUser(c), id, req.UserID, canView, canSign)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, perm)
}

func (h *DocumentHandler) RevokePermission(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	target, ok := pathID(c, "userID")
	if !ok {
		return
	}
	if err := h.documents.RevokePermission(c.Request.Context(), currentUser(c), id, target); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) ListAccess(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.queries.AccessList(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *DocumentHandler) SignDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req signRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "malformed body")
			return
		}
	}

	sig, err := h.documents.Sign(c.Request.Context(), currentUser(c), id, req.Comments)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sig)
}

func (h *DocumentHandler) limitBody(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
}

func (h *DocumentHandler) formError(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
		})
		return
	}
	badRequest(c, msg)
}

func fileInput(fh *multipart.FileHeader, f multipart.File) *services.FileInput {
	return &services.FileInput{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     f,
	}
}
