package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/complygate/complygate/internal/middleware"
	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/apperrors"
	"github.com/complygate/complygate/internal/service"
	"github.com/gin-gonic/gin"
)

// JobHandler exposes export and deletion runs plus the inventory view
// they operate over.
type JobHandler struct {
	manager      *service.LifecycleManager
	orchestrator *service.Orchestrator
	resolver     *service.InventoryResolver
	exportDir    string
}

func NewJobHandler(manager *service.LifecycleManager, orch *service.Orchestrator, resolver *service.InventoryResolver, exportDir string) *JobHandler {
	return &JobHandler{manager: manager, orchestrator: orch, resolver: resolver, exportDir: exportDir}
}

// Inventory lists every registered data category for a user, including
// unavailable ones.
func (h *JobHandler) Inventory(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.Error(apperrors.NewValidation("user_id is required"))
		return
	}
	categories := h.resolver.Inventory(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "categories": categories})
}

// TriggerExport starts an asynchronous export run for a request.
func (h *JobHandler) TriggerExport(c *gin.Context) {
	var in model.ExportTriggerInput
	_ = c.ShouldBindJSON(&in) // empty body means all categories

	req, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	job, err := h.orchestrator.StartExport(c.Request.Context(), req, in.Categories, middleware.Caller(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "job": job})
}

// TriggerDeletion starts an asynchronous deletion run. Runs survive the
// triggering connection and are resumable, never cancellable.
func (h *JobHandler) TriggerDeletion(c *gin.Context) {
	var in model.DeletionTriggerInput
	_ = c.ShouldBindJSON(&in) // empty body means all categories

	req, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	job, err := h.orchestrator.StartDeletion(c.Request.Context(), req, in.Categories, middleware.Caller(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "job": job})
}

// jobPayload decorates a partially failed run with the structured error
// kind so an admin knows to retry the failed categories.
func jobPayload(job *model.Job) gin.H {
	payload := gin.H{"job": job}
	if job.State == model.JobCompletedWithErrors {
		payload["error"] = apperrors.NewPartialFailure(job.Error)
	}
	return payload
}

// JobStatus is the poll endpoint for a single job.
func (h *JobHandler) JobStatus(c *gin.Context) {
	job, err := h.orchestrator.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, jobPayload(job))
}

// LatestJob returns the most recent job of the given kind for a request.
func (h *JobHandler) LatestJob(c *gin.Context) {
	kind := model.JobKind(c.Query("kind"))
	if kind != model.JobExport && kind != model.JobDeletion {
		c.Error(apperrors.NewValidation("kind must be export or deletion"))
		return
	}
	job, err := h.orchestrator.LatestJob(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, jobPayload(job))
}

// CancelJob cancels a running export. Deletion jobs refuse cancellation.
func (h *JobHandler) CancelJob(c *gin.Context) {
	if err := h.orchestrator.CancelExport(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DownloadExport serves a finished export archive by file name.
func (h *JobHandler) DownloadExport(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".zip") {
		c.Error(apperrors.NewValidation("invalid export name"))
		return
	}
	c.FileAttachment(filepath.Join(h.exportDir, name), name)
}
