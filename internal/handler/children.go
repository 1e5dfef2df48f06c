package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"eventcheckin/internal/attendee"
)

func (h *Handler) AddChild(c *gin.Context) {
	var in attendee.ChildInput
	if !h.bind(c, &in) {
		return
	}
	a, child, sess, err := h.svc.AddChild(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"child": child, "attendee": viewOf(a, sess)})
}

// UpdateChild edits the child named by :child, an id or a name.
func (h *Handler) UpdateChild(c *gin.Context) {
	var p attendee.ChildPatch
	if !h.bind(c, &p) {
		return
	}
	a, child, sess, err := h.svc.UpdateChild(c.Request.Context(), c.Param("id"), c.Param("child"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"child": child, "attendee": viewOf(a, sess)})
}

func (h *Handler) RemoveChild(c *gin.Context) {
	a, sess, err := h.svc.RemoveChild(c.Request.Context(), c.Param("id"), c.Param("child"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "attendee": viewOf(a, sess)})
}

func (h *Handler) VerifyChild(c *gin.Context) {
	a, child, sess, err := h.svc.VerifyChild(c.Request.Context(), c.Param("id"), c.Param("child"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"child": child, "attendee": viewOf(a, sess)})
}
