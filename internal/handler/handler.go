package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
)

// Check is a named dependency reported by /healthz.
type Check struct {
	Name   string
	Pinger attendee.Pinger
}

// Handler serves the attendee, slot and photo-session REST API.
type Handler struct {
	svc    *attendee.Service
	log    *zap.Logger
	checks []Check
}

// New builds a handler around svc.
func New(svc *attendee.Service, log *zap.Logger, checks ...Check) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log, checks: checks}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	r.GET("/attendees", h.ListAttendees)
	r.POST("/attendees", h.CreateAttendee)
	r.PUT("/attendees/bulk/update", h.BulkUpdate)
	r.GET("/attendees/:id", h.GetAttendee)
	r.PUT("/attendees/:id", h.UpdateAttendee)
	r.DELETE("/attendees/:id", h.DeleteAttendee)
	r.POST("/attendees/:id/checkin", h.CheckIn)
	r.GET("/attendees/:id/qr", h.QR)
	r.POST("/attendees/:id/photo-session", h.SchedulePhoto)
	r.PUT("/attendees/:id/slot", h.ReserveSlot)
	r.DELETE("/attendees/:id/slot", h.ReleaseSlot)

	r.POST("/attendees/:id/children", h.AddChild)
	r.PUT("/attendees/:id/children/:child", h.UpdateChild)
	r.DELETE("/attendees/:id/children/:child", h.RemoveChild)
	r.POST("/attendees/:id/children/:child/verify", h.VerifyChild)

	r.GET("/slots", h.ListSlots)
	r.GET("/photo-sessions", h.ListSessions)
	r.POST("/photo-sessions/sync", h.SyncSessions)
}

// Healthz pings every registered dependency.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, chk := range h.checks {
		err := chk.Pinger.Ping(c.Request.Context())
		body[chk.Name] = err == nil
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			h.log.Warn("health check failed", zap.String("check", chk.Name), zap.Error(err))
		}
	}
	c.JSON(status, body)
}

// attendeeView is the wire shape of an attendee: the stored fields, the
// photoTime/isPhotoTaken pair older clients read, and the current session.
type attendeeView struct {
	attendee.Attendee
	PhotoTime    string                 `json:"photoTime"`
	IsPhotoTaken bool                   `json:"isPhotoTaken"`
	PhotoSession *attendee.PhotoSession `json:"photoSession"`
}

func viewOf(a attendee.Attendee, s *attendee.PhotoSession) attendeeView {
	a.Normalize()
	return attendeeView{
		Attendee:     a,
		PhotoTime:    a.PhotographyTimeSlot,
		IsPhotoTaken: a.PhotographyStatus.Taken(),
		PhotoSession: s,
	}
}

// withSession looks up the attendee's session for the response. A missing
// or unreadable session renders as null.
func (h *Handler) withSession(ctx context.Context, a attendee.Attendee) attendeeView {
	if a.PhotographyTimeSlot == "" {
		return viewOf(a, nil)
	}
	s, err := h.svc.Session(ctx, a.ID)
	if err != nil {
		if !errors.Is(err, attendee.ErrNotFound) {
			h.log.Warn("load photo session", zap.String("attendee_id", a.ID), zap.Error(err))
		}
		return viewOf(a, nil)
	}
	return viewOf(a, &s)
}

var statusByCode = map[string]int{
	"VALIDATION_ERROR":  http.StatusBadRequest,
	"NOT_FOUND":         http.StatusNotFound,
	"DUPLICATE_EMAIL":   http.StatusConflict,
	"SLOT_UNAVAILABLE":  http.StatusConflict,
	"LOCK_TIMEOUT":      http.StatusServiceUnavailable,
	"TIMEOUT":           http.StatusGatewayTimeout,
	"TRANSACTION_ERROR": http.StatusInternalServerError,
}

// fail writes the error body {"error", "code", "details"} for err.
func (h *Handler) fail(c *gin.Context, err error) {
	code := attendee.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	switch code {
	case "VALIDATION_ERROR":
		msg = "validation failed"
	case "LOCK_TIMEOUT":
		msg = "the data store is busy, please retry"
	case "TIMEOUT":
		msg = "request timed out"
	case "TRANSACTION_ERROR":
		msg = "the change could not be saved"
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err),
		)
	}

	body := gin.H{"error": msg, "code": code}
	if details := attendee.Details(err); len(details) > 0 {
		body["details"] = details
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// bind decodes the JSON body into v, answering 400 on malformed input.
func (h *Handler) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid JSON body: " + err.Error(),
			"code":  "VALIDATION_ERROR",
		})
		return false
	}
	return true
}
