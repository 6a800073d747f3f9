// Package handlers exposes the protocol engine over HTTP. Handlers do
// input shaping and error mapping only; all protocol logic lives in the
// services.
package handlers

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vestazk-backend/internal/clients"
	"vestazk-backend/internal/services"
	"vestazk-backend/internal/types"
)

// Handler bundles the services behind the API surface.
type Handler struct {
	deposits *services.DepositService
	actions  *services.ActionService
	stats    *services.PoolStatsService
}

// New creates the API handler set.
func New(deposits *services.DepositService, actions *services.ActionService, stats *services.PoolStatsService) *Handler {
	return &Handler{deposits: deposits, actions: actions, stats: stats}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// PoolStats serves the latest cached pool snapshot.
func (h *Handler) PoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Stats())
}

type depositRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// Deposit opens a position.
func (h *Handler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal integer"})
		return
	}
	session := types.NewSession(req.Owner)

	record, err := h.deposits.Deposit(c.Request.Context(), session, amount)
	if err != nil {
		h.fail(c, session, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"commitment": record.Commitment,
		"amount":     record.Amount,
	})
}

type borrowRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// Borrow runs the borrow flow.
func (h *Handler) Borrow(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal integer"})
		return
	}
	session := types.NewSession(req.Owner)

	receipt, err := h.actions.Borrow(c.Request.Context(), session, amount)
	if err != nil {
		h.fail(c, session, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "receipt": receipt})
}

type exitRequest struct {
	Owner string `json:"owner" binding:"required"`
}

// Exit runs the emergency-exit flow.
func (h *Handler) Exit(c *gin.Context) {
	var req exitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session := types.NewSession(req.Owner)

	receipt, err := h.actions.Exit(c.Request.Context(), session)
	if err != nil {
		h.fail(c, session, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "receipt": receipt})
}

// Position reports the owner's stored position. Salt stays private; only
// the public leaf data is returned.
func (h *Handler) Position(c *gin.Context) {
	session := types.NewSession(c.Param("owner"))
	record, err := h.deposits.Status(c.Request.Context(), session)
	if err != nil {
		h.fail(c, session, err)
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no position for owner"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"commitment":  record.Commitment,
		"amount":      record.Amount,
		"merkle_root": record.MerkleRoot,
		"created_at":  record.CreatedAt,
	})
}

// ExportPosition returns the owner's backup blob.
func (h *Handler) ExportPosition(c *gin.Context) {
	session := types.NewSession(c.Param("owner"))
	blob, err := h.deposits.Export(c.Request.Context(), session)
	if err != nil {
		h.fail(c, session, err)
		return
	}
	if blob == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no position for owner"})
		return
	}
	c.Data(http.StatusOK, "application/json", blob)
}

// ImportPosition restores a position from a backup blob.
func (h *Handler) ImportPosition(c *gin.Context) {
	session := types.NewSession(c.Param("owner"))
	blob, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deposits.Import(c.Request.Context(), session, blob); err != nil {
		h.fail(c, session, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "imported"})
}

// fail maps a service failure onto an HTTP status.
func (h *Handler) fail(c *gin.Context, session *types.Session, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrWalletUnavailable):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrNoCommitment):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrPositionExists),
		errors.Is(err, services.ErrNullifierUsed),
		errors.Is(err, services.ErrActionInFlight):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInsufficientHealth):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrRootMismatch):
		status = http.StatusConflict
	case errors.Is(err, clients.ErrProverUnavailable),
		errors.Is(err, clients.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, services.ErrSubmissionTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, services.ErrSubmissionFailed):
		status = http.StatusBadGateway
	}

	logrus.WithFields(logrus.Fields{
		"session": session.ID,
		"status":  status,
	}).WithError(err).Warn("request failed")
	c.JSON(status, gin.H{"error": err.Error(), "session_id": session.ID})
}
