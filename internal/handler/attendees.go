package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
)

// ListAttendees returns every attendee. Store failures degrade to an empty
// list so the check-in screen stays usable.
func (h *Handler) ListAttendees(c *gin.Context) {
	ctx := c.Request.Context()
	all, err := h.svc.List(ctx)
	if err != nil {
		h.log.Warn("list attendees failed, serving empty list", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"attendees": []attendeeView{}})
		return
	}

	sessions := make(map[string]*attendee.PhotoSession)
	if list, err := h.svc.Sessions(ctx); err == nil {
		for i := range list {
			sessions[list[i].AttendeeID] = &list[i]
		}
	} else {
		h.log.Warn("list photo sessions failed", zap.Error(err))
	}

	out := make([]attendeeView, 0, len(all))
	for _, a := range all {
		out = append(out, viewOf(a, sessions[a.ID]))
	}
	c.JSON(http.StatusOK, gin.H{"attendees": out})
}

func (h *Handler) GetAttendee(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withSession(c.Request.Context(), a))
}

func (h *Handler) CreateAttendee(c *gin.Context) {
	var f attendee.Fields
	if !h.bind(c, &f) {
		return
	}
	a, sess, err := h.svc.Create(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(a, sess))
}

// UpdateAttendee merges the sent fields into the stored attendee.
func (h *Handler) UpdateAttendee(c *gin.Context) {
	var f attendee.Fields
	if !h.bind(c, &f) {
		return
	}
	a, sess, err := h.svc.Update(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(a, sess))
}

func (h *Handler) DeleteAttendee(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) CheckIn(c *gin.Context) {
	a, sess, err := h.svc.CheckIn(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(a, sess))
}

// SchedulePhoto applies a photo-session request and answers with the
// attendee and its session.
func (h *Handler) SchedulePhoto(c *gin.Context) {
	var req attendee.PhotoRequest
	if !h.bind(c, &req) {
		return
	}
	a, sess, err := h.svc.SchedulePhoto(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(a, sess))
}

type bulkRequest struct {
	Attendees []attendee.BulkItem `json:"attendees"`
}

// BulkUpdate applies each item independently. The status is 200 when every
// item succeeded and 207 when at least one failed.
func (h *Handler) BulkUpdate(c *gin.Context) {
	var req bulkRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Attendees == nil {
		h.fail(c, attendee.ValidationError{Field: "attendees", Message: "attendees array is required"})
		return
	}

	report := h.svc.BulkUpdate(c.Request.Context(), req.Attendees)
	status, msg := http.StatusOK, "attendees updated"
	if report.Failed > 0 {
		status, msg = http.StatusMultiStatus, "some attendees could not be updated"
	}
	c.JSON(status, gin.H{
		"message": msg,
		"count":   report.Count,
		"failed":  report.Failed,
		"results": report.Results,
	})
}
