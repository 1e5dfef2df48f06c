package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// QR renders a PNG QR code of the attendee's record URL. Door staff scan it
// to look the attendee up, then check them in with a POST.
func (h *Handler) QR(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	size := defaultQRSize
	if v := c.Query("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= minQRSize && n <= maxQRSize {
			size = n
		}
	}

	png, err := qrcode.Encode(attendeeURL(c, a.ID), qrcode.Medium, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// attendeeURL is the absolute GET /attendees/:id address as seen by the client.
func attendeeURL(c *gin.Context, id string) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + "/attendees/" + id
}
