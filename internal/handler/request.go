package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/complygate/complygate/internal/middleware"
	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/apperrors"
	"github.com/complygate/complygate/internal/service"
	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	manager *service.LifecycleManager
}

func NewRequestHandler(manager *service.LifecycleManager) *RequestHandler {
	return &RequestHandler{manager: manager}
}

// requestView decorates a request with its deadline and SLA state.
type requestView struct {
	*model.Request
	Deadline  time.Time         `json:"deadline"`
	SLAStatus service.SLAStatus `json:"sla_status,omitempty"`
}

func (h *RequestHandler) view(req *model.Request, now time.Time) requestView {
	return requestView{
		Request:   req,
		Deadline:  service.Deadline(req, h.manager.SLAWindow()),
		SLAStatus: h.manager.Status(now, req),
	}
}

// Create is the public intake endpoint for data subjects.
func (h *RequestHandler) Create(c *gin.Context) {
	var in model.CreateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	req, err := h.manager.Create(c.Request.Context(), in, middleware.Caller(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "request": h.view(req, time.Now())})
}

func (h *RequestHandler) Get(c *gin.Context) {
	req, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.view(req, time.Now()))
}

func (h *RequestHandler) List(c *gin.Context) {
	status := model.RequestStatus("")
	if raw := c.Query("status"); raw != "" {
		status = model.ParseRequestStatus(raw)
		if status == model.StatusUnknown {
			c.Error(apperrors.NewValidation("unknown status filter"))
			return
		}
	}
	limit, offset := 100, 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}

	requests, err := h.manager.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	now := time.Now()
	views := make([]requestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, h.view(req, now))
	}
	c.JSON(http.StatusOK, gin.H{"requests": views, "count": len(views)})
}

func (h *RequestHandler) Assign(c *gin.Context) {
	var in model.AssignInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	h.respond(c, func() (*model.Request, error) {
		return h.manager.Assign(c.Request.Context(), c.Param("id"), in.AdminID, middleware.Caller(c))
	})
}

func (h *RequestHandler) AddNote(c *gin.Context) {
	var in model.NoteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	h.respond(c, func() (*model.Request, error) {
		return h.manager.AddNote(c.Request.Context(), c.Param("id"), in.Text, middleware.Caller(c))
	})
}

func (h *RequestHandler) Verify(c *gin.Context) {
	h.respond(c, func() (*model.Request, error) {
		return h.manager.Verify(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	})
}

func (h *RequestHandler) StartProcessing(c *gin.Context) {
	h.respond(c, func() (*model.Request, error) {
		return h.manager.StartProcessing(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	})
}

func (h *RequestHandler) Complete(c *gin.Context) {
	h.respond(c, func() (*model.Request, error) {
		return h.manager.Complete(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	})
}

func (h *RequestHandler) Reject(c *gin.Context) {
	var in model.RejectInput
	_ = c.ShouldBindJSON(&in) // empty body means empty reason; the manager validates
	h.respond(c, func() (*model.Request, error) {
		return h.manager.Reject(c.Request.Context(), c.Param("id"), in.Reason, middleware.Caller(c))
	})
}

func (h *RequestHandler) AcknowledgeRetention(c *gin.Context) {
	h.respond(c, func() (*model.Request, error) {
		return h.manager.AcknowledgeRetention(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	})
}

func (h *RequestHandler) respond(c *gin.Context, op func() (*model.Request, error)) {
	req, err := op()
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "request": h.view(req, time.Now())})
}
