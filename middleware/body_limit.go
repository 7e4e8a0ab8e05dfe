package middleware

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/fhost/config"
	"github.com/cppla/fhost/utils"
)

// multipartMemory is how much of a multipart body stays in memory; larger
// parts spill to temporary files.
const multipartMemory = 8 << 20

// ParseUpload caps a POST body at MaxContentLength and parses the form once,
// so later handlers can read fields without touching the body. Other methods
// pass through.
func ParseUpload(cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if c.Request.ContentLength > cfg.MaxContentLength {
			utils.Fail(c, http.StatusRequestEntityTooLarge, "")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxContentLength)
		err := c.Request.ParseMultipartForm(multipartMemory)
		var tooLarge *http.MaxBytesError
		switch {
		case err == nil, errors.Is(err, http.ErrNotMultipart):
		case errors.As(err, &tooLarge), errors.Is(err, multipart.ErrMessageTooLarge):
			utils.Fail(c, http.StatusRequestEntityTooLarge, "")
			return
		default:
			utils.Fail(c, http.StatusBadRequest, "")
			return
		}
		if c.Request.MultipartForm != nil {
			defer c.Request.MultipartForm.RemoveAll() //nolint:errcheck
		}
		c.Next()
	}
}
