package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
)

// ListSlots reports every slot with live counts. A store failure degrades to
// zero counts.
func (h *Handler) ListSlots(c *gin.Context) {
	slots, err := h.svc.ListSlots(c.Request.Context())
	if err != nil {
		h.log.Warn("slot availability failed, serving empty counts", zap.Error(err))
		slots = h.svc.Plan().Availability(nil)
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots, "capacity": h.svc.Plan().Capacity()})
}

type slotRequest struct {
	TimeSlot string `json:"timeSlot"`
}

func (h *Handler) ReserveSlot(c *gin.Context) {
	var req slotRequest
	if !h.bind(c, &req) {
		return
	}
	a, sess, err := h.svc.Reserve(c.Request.Context(), c.Param("id"), req.TimeSlot)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(a, sess))
}

func (h *Handler) ReleaseSlot(c *gin.Context) {
	a, sess, err := h.svc.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(a, sess))
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.svc.Sessions(c.Request.Context())
	if err != nil {
		h.log.Warn("list photo sessions failed, serving empty list", zap.Error(err))
		sessions = []attendee.PhotoSession{}
	}
	c.JSON(http.StatusOK, gin.H{"photoSessions": sessions})
}

// SyncSessions runs a reconciliation sweep and reports the repairs.
func (h *Handler) SyncSessions(c *gin.Context) {
	report, err := h.svc.Sweep(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
