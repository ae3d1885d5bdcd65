package handlers

import (
	"bytes"
	"c4chat/internal/api/respond"
	"c4chat/internal/logger"
	"c4chat/internal/metrics"
	"c4chat/internal/repository/db"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MaxAttachmentBytes caps the size of a single upload
const MaxAttachmentBytes = 32 << 20

// UploadAttachmentHandler stores a raw upload and queues it for the user's
// next message. The blob is written first and removed again when billing
// rejects the upload.
func (ch *ChatHandlers) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	ctx := r.Context()

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		contentType = ""
	}
	if err := ch.validator.ValidateAttachmentType(contentType); err != nil {
		sendServiceError(w, err, "Error uploading attachment")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxAttachmentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, http.StatusRequestEntityTooLarge, respond.CodeInvalidRequest, "Attachment is too large")
			return
		}
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, "Error reading attachment")
		return
	}
	if len(body) == 0 {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, "Attachment is empty")
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("filename"))
	if name == "" {
		name = "Unnamed Attachment." + contentType[strings.Index(contentType, "/")+1:]
	}

	key := uuid.New().String()
	size := int64(len(body))
	if err := ch.config.Blobs.Put(ctx, key, bytes.NewReader(body), size, contentType); err != nil {
		sendServiceError(w, err, "Error storing attachment")
		return
	}

	url, err := ch.config.Blobs.URL(ctx, key)
	if err != nil {
		ch.discardBlob(r, key)
		sendServiceError(w, err, "Error storing attachment")
		return
	}

	attachment := db.Attachment{ID: key, Name: name, Type: contentType, URL: url}
	if _, err := ch.config.DB.AddUnsentAttachment(ctx, userID, ch.config.Ledger.AttachmentCharge(size), attachment); err != nil {
		ch.discardBlob(r, key)
		switch {
		case errors.Is(err, db.ErrPremiumRequired):
			metrics.DebitRejections.WithLabelValues("attachment", "premium_required").Inc()
		case errors.Is(err, db.ErrInsufficientCredit):
			metrics.DebitRejections.WithLabelValues("attachment", "insufficient_credit").Inc()
		}
		sendServiceError(w, err, "Error uploading attachment")
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":       userID,
		"attachment_id": key,
		"type":          contentType,
		"size":          size,
	}).Info("Attachment uploaded")
	respond.JSON(w, http.StatusCreated, attachment)
}

// DeleteAttachmentHandler discards a pending attachment and its blob
func (ch *ChatHandlers) DeleteAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	attachmentID := r.PathValue("id")

	removed, err := ch.config.DB.RemoveUnsentAttachment(r.Context(), userID, attachmentID)
	if err != nil {
		sendServiceError(w, err, "Error deleting attachment")
		return
	}
	if !removed {
		respond.Error(w, http.StatusNotFound, respond.CodeNotFound, "Attachment not found")
		return
	}

	ch.discardBlob(r, attachmentID)
	respond.JSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Attachment deleted successfully",
	})
}

func (ch *ChatHandlers) discardBlob(r *http.Request, key string) {
	if err := ch.config.Blobs.Delete(r.Context(), key); err != nil {
		logger.Log.WithError(err).WithField("attachment_id", key).Warn("Failed to delete attachment blob")
	}
}
