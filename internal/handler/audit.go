package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/apperrors"
	"github.com/complygate/complygate/internal/service"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	recorder *service.AuditRecorder
}

func NewAuditHandler(recorder *service.AuditRecorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

// Query lists audit entries matching the given filters, newest first.
func (h *AuditHandler) Query(c *gin.Context) {
	filter := model.AuditFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		UserID:     c.Query("user_id"),
	}
	if raw := c.Query("action"); raw != "" {
		action := model.ParseAuditAction(raw)
		if action == model.ActionUnknown {
			c.Error(apperrors.NewValidation("unknown audit action"))
			return
		}
		filter.Action = action
	}
	var err error
	if filter.From, err = parseTimeParam(c.Query("from")); err != nil {
		c.Error(apperrors.NewValidation("from must be RFC 3339"))
		return
	}
	if filter.To, err = parseTimeParam(c.Query("to")); err != nil {
		c.Error(apperrors.NewValidation("to must be RFC 3339"))
		return
	}

	page := model.AuditPage{Number: 1, Size: 50}
	if raw := c.Query("page"); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil {
			page.Number = parsed
		}
	}
	if raw := c.Query("page_size"); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil {
			page.Size = parsed
		}
	}

	entries, total, err := h.recorder.Query(c.Request.Context(), filter, page)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total_count": total})
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
