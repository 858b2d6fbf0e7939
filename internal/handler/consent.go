package handler

import (
	"net/http"
	"time"

	"github.com/complygate/complygate/internal/middleware"
	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/apperrors"
	"github.com/complygate/complygate/internal/service"
	"github.com/gin-gonic/gin"
)

type ConsentHandler struct {
	ledger *service.ConsentLedger
}

func NewConsentHandler(ledger *service.ConsentLedger) *ConsentHandler {
	return &ConsentHandler{ledger: ledger}
}

func (h *ConsentHandler) CreateType(c *gin.Context) {
	var in model.ConsentTypeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	ct, err := h.ledger.CreateType(c.Request.Context(), in, time.Now())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "consent_type": ct})
}

func (h *ConsentHandler) UpdateType(c *gin.Context) {
	var in model.ConsentTypeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	ct, err := h.ledger.UpdateType(c.Request.Context(), c.Param("slug"), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "consent_type": ct})
}

func (h *ConsentHandler) ListTypes(c *gin.Context) {
	types, err := h.ledger.ListTypes(c.Request.Context())
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"consent_types": types, "count": len(types)})
}

// Decide records a grant or denial for a user and consent type.
func (h *ConsentHandler) Decide(c *gin.Context) {
	var in model.ConsentDecisionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	if in.Granted == nil {
		c.Error(apperrors.NewValidation("granted is required"))
		return
	}
	rec, err := h.ledger.Grant(c.Request.Context(), in.UserID, in.ConsentTypeSlug,
		*in.Granted, model.ParseConsentSource(in.Source), middleware.Caller(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "record": rec})
}

// Withdraw supersedes an earlier grant without rewriting it.
func (h *ConsentHandler) Withdraw(c *gin.Context) {
	var in model.ConsentDecisionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewValidation(err.Error()))
		return
	}
	rec, err := h.ledger.Withdraw(c.Request.Context(), in.UserID, in.ConsentTypeSlug,
		model.ParseConsentSource(in.Source), middleware.Caller(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "record": rec})
}

// Current returns the latest consent record for a user and type.
func (h *ConsentHandler) Current(c *gin.Context) {
	rec, err := h.ledger.Current(c.Request.Context(), c.Query("user_id"), c.Param("slug"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

// History streams the full consent history for a user and type, oldest
// first.
func (h *ConsentHandler) History(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.Error(apperrors.NewValidation("user_id is required"))
		return
	}
	seq, err := h.ledger.History(c.Request.Context(), userID, c.Param("slug"))
	if err != nil {
		c.Error(err)
		return
	}
	records := []*model.ConsentRecord{}
	for rec, iterErr := range seq {
		if iterErr != nil {
			c.Error(apperrors.Wrap(iterErr))
			return
		}
		records = append(records, rec)
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// Rate reports the grant percentage for a consent type.
func (h *ConsentHandler) Rate(c *gin.Context) {
	rate, err := h.ledger.Rate(c.Request.Context(), c.Param("slug"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consent_type": c.Param("slug"), "rate": rate})
}
