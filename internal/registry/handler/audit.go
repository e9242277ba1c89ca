package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/NodeRegistrar/internal/auditlog"
	"go.uber.org/zap"
)

// AuditHandler exposes read-only HTTP endpoints for the audit ledger.
type AuditHandler struct {
	ledger auditlog.Ledger
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(ledger auditlog.Ledger, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{ledger: ledger, logger: logger}
}

// Register mounts the audit routes on the given router group. The group must
// already carry authentication and the view_audit permission check.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /audit and returns the chain length and root hash.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("audit Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, envelope{Result: false, Message: "failed to query audit log"})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("audit Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, envelope{Result: false, Message: "failed to query audit log root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /audit/verify. It walks the full chain.
func (h *AuditHandler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("audit log integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /audit/entries/:idx.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, envelope{Result: false, Message: "idx must be a non-negative integer"})
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		c.JSON(http.StatusNotFound, envelope{Result: false, Message: "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
