package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"edurag/internal/models"
	"edurag/internal/progress"
	"edurag/internal/service/documents"
	"edurag/internal/worker"
)

const (
	progressPingInterval = 15 * time.Second
	// room for multipart headers and boundaries around the file part
	multipartSlack = 1 << 20
)

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartSlack)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	original := filepath.Base(strings.TrimSpace(file.Filename))
	if original == "" || original == "." || original == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file selected"})
		return
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(original)), ".")
	if _, ok := h.allowedTypes[ext]; !ok || ext == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("File type .%s not allowed", ext)})
		return
	}
	if file.Size > h.maxUpload {
		h.tooLarge(c)
		return
	}

	if err := os.MkdirAll(h.fileBase, 0o755); err != nil {
		h.log.Error("create upload directory", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	storedName, storedPath := h.uniqueUploadPath(original)
	if err := c.SaveUploadedFile(file, storedPath); err != nil {
		h.log.Error("save upload", "error", err, "filename", original)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}

	ctx := c.Request.Context()
	doc, err := h.docs.Create(ctx, documents.NewDocument{
		Filename:     storedName,
		OriginalName: original,
		FileType:     ext,
		FileSize:     file.Size,
		StoredPath:   storedPath,
	})
	if err != nil {
		_ = os.Remove(storedPath)
		h.log.Error("record upload", "error", err, "filename", original)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record file failed"})
		return
	}

	if err := h.jobs.Enqueue(ctx, worker.IngestTask{
		DocumentID: doc.ID,
		Filename:   original,
		Format:     ext,
		Path:       storedPath,
	}); err != nil {
		h.log.Warn("enqueue ingestion", "document_id", doc.ID, "error", err)
		if _, derr := h.docs.Delete(context.WithoutCancel(ctx), doc.ID); derr != nil {
			h.log.Error("drop unqueued document", "document_id", doc.ID, "error", derr)
		}
		_ = os.Remove(storedPath)
		h.busyOrFail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"document_id":    doc.ID,
		"filename":       original,
		"size":           file.Size,
		"type":           ext,
		"status":         doc.Status,
		"message":        "File uploaded successfully. Processing started in background.",
		"progress_url":   fmt.Sprintf("/api/documents/%d/progress", doc.ID),
		"estimated_time": documents.EstimateProcessingTime(file.Size, ext),
	})
}

func (h *Handler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File too large, the limit is %d MB", h.maxUpload>>20)})
}

func (h *Handler) uniqueUploadPath(original string) (string, string) {
	name := fmt.Sprintf("%d_%s", time.Now().Unix(), original)
	path := filepath.Join(h.fileBase, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return name, path
	}
	name = fmt.Sprintf("%d_%s", time.Now().UnixNano(), original)
	return name, filepath.Join(h.fileBase, name)
}

func (h *Handler) busyOrFail(c *gin.Context, err error) {
	if errors.Is(err, worker.ErrDispatcherBusy) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion is not accepting work"})
}

type documentView struct {
	models.Document
	Progress progress.Entry `json:"progress"`
}

func (h *Handler) listDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	docs, err := h.docs.List(ctx)
	if err != nil {
		h.log.Error("list documents", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}
	views := make([]documentView, 0, len(docs))
	for i := range docs {
		views = append(views, documentView{Document: docs[i], Progress: h.progressOf(ctx, &docs[i])})
	}
	c.JSON(http.StatusOK, gin.H{"documents": views, "total": len(views)})
}

func (h *Handler) loadDocument(c *gin.Context) (*models.Document, bool) {
	id, ok := documentID(c)
	if !ok {
		return nil, false
	}
	doc, err := h.docs.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
			return nil, false
		}
		h.log.Error("load document", "document_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return nil, false
	}
	return doc, true
}

func (h *Handler) documentStatus(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	p := h.progressOf(c.Request.Context(), doc)
	c.JSON(http.StatusOK, gin.H{
		"document_id":    doc.ID,
		"filename":       doc.OriginalName,
		"status":         doc.Status,
		"file_type":      doc.FileType,
		"file_size":      doc.FileSize,
		"chunk_count":    doc.ChunkCount,
		"attempts":       doc.Attempts,
		"metadata":       doc.Metadata,
		"uploaded_at":    doc.UploadedAt,
		"updated_at":     doc.UpdatedAt,
		"progress":       p.Progress,
		"stage":          p.Stage,
		"last_update":    p.UpdatedAt,
		"error":          p.Error,
		"estimated_time": documents.EstimateProcessingTime(doc.FileSize, doc.FileType),
	})
}

func (h *Handler) documentProgress(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.progressOf(c.Request.Context(), doc))
}

// streamProgress pushes progress events until the attempt ends or the
// client goes away.
func (h *Handler) streamProgress(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		updates <-chan progress.Entry
		cancel  = func() {}
	)
	if h.tracker != nil {
		ch, stop, err := h.tracker.Subscribe(ctx, doc.ID)
		if err != nil {
			h.log.Warn("subscribe progress", "document_id", doc.ID, "error", err)
		} else {
			updates, cancel = ch, stop
		}
	}
	defer cancel()

	w, ok := startSSE(c)
	if !ok {
		return
	}
	current := h.progressOf(ctx, doc)
	if err := w.send("progress", current); err != nil || current.Stage.Terminal() || updates == nil {
		return
	}

	ticker := time.NewTicker(progressPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ping(); err != nil {
				return
			}
		case e, open := <-updates:
			if !open {
				return
			}
			if err := w.send("progress", e); err != nil || e.Stage.Terminal() {
				return
			}
		}
	}
}

func (h *Handler) retryDocument(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	if doc.Status != models.StatusFailed {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("only failed documents can be retried, status is %s", doc.Status)})
		return
	}
	if doc.StoredPath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "the stored upload has expired, please upload the file again"})
		return
	}
	if _, err := os.Stat(doc.StoredPath); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "the stored upload has expired, please upload the file again"})
		return
	}

	ctx := c.Request.Context()
	reset, err := h.docs.ResetForRetry(ctx, doc.ID)
	if err != nil {
		if errors.Is(err, documents.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": "document is no longer in the failed state"})
			return
		}
		if errors.Is(err, documents.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
			return
		}
		h.log.Error("reset document", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset document"})
		return
	}
	if err := h.jobs.Enqueue(ctx, worker.IngestTask{
		DocumentID: reset.ID,
		Filename:   reset.OriginalName,
		Format:     reset.FileType,
		Path:       reset.StoredPath,
	}); err != nil {
		h.abandonRetry(context.WithoutCancel(ctx), reset.ID, err)
		h.busyOrFail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"document_id":  reset.ID,
		"status":       reset.Status,
		"attempts":     reset.Attempts,
		"message":      "Document requeued for processing",
		"progress_url": fmt.Sprintf("/api/documents/%d/progress", reset.ID),
	})
}

// abandonRetry puts a reset document back into failed when it could not be
// queued, so it stays retryable.
func (h *Handler) abandonRetry(ctx context.Context, id int64, cause error) {
	if err := h.docs.MarkProcessing(ctx, id); err != nil {
		h.log.Error("restore failed state", "document_id", id, "error", err)
		return
	}
	if err := h.docs.MarkFailed(ctx, id, models.DocumentMetadata{
		Error:    "requeue rejected: " + cause.Error(),
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		h.log.Error("restore failed state", "document_id", id, "error", err)
	}
}

func (h *Handler) deleteDocument(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	if doc.Status == models.StatusProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": "document is being processed, try again when it finishes"})
		return
	}
	ctx := c.Request.Context()
	h.jobs.Cancel(doc.ID)
	if _, err := h.docs.Delete(ctx, doc.ID); err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
			return
		}
		h.log.Error("delete document", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
		return
	}

	// the row is gone, everything below is best-effort
	cleanup := context.WithoutCancel(ctx)
	if doc.StoredPath != "" {
		if err := os.Remove(doc.StoredPath); err != nil && !os.IsNotExist(err) {
			h.log.Warn("remove stored upload", "document_id", doc.ID, "error", err)
		}
	}
	if h.tracker != nil {
		if err := h.tracker.Delete(cleanup, doc.ID); err != nil {
			h.log.Warn("delete progress", "document_id", doc.ID, "error", err)
		}
	}
	if h.store != nil {
		if err := h.store.DeleteByDocument(cleanup, doc.ID); err != nil {
			h.log.Warn("delete document vectors", "document_id", doc.ID, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "document_id": doc.ID})
}

// progressOf prefers the live tracker entry and falls back to what the
// document row says.
func (h *Handler) progressOf(ctx context.Context, doc *models.Document) progress.Entry {
	if h.tracker != nil {
		e, ok, err := h.tracker.Get(ctx, doc.ID)
		if err != nil {
			h.log.Warn("read progress", "document_id", doc.ID, "error", err)
		} else if ok {
			if e.Filename == "" {
				e.Filename = doc.OriginalName
			}
			return e
		}
	}
	e := progress.Entry{
		DocumentID: doc.ID,
		Status:     string(doc.Status),
		Filename:   doc.OriginalName,
		UpdatedAt:  doc.UpdatedAt,
	}
	switch doc.Status {
	case models.StatusCompleted:
		e.Progress, e.Stage = 100, progress.StageCompleted
	case models.StatusFailed:
		e.Stage, e.Error = progress.StageFailed, doc.Metadata.Error
	case models.StatusProcessing:
		e.Stage = progress.StageExtracting
	default:
		e.Stage = progress.StageQueued
	}
	return e
}
