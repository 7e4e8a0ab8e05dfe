package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/fhost/services"
	"github.com/cppla/fhost/utils"
)

// RequestFilter rejects uploads matching an operator filter with 403 and the
// filter's reason. It expects ParseUpload to have run. Lookup errors fail
// open; the MIME check in the ledger still runs on the sniffed type.
func RequestFilter(engine *services.FilterEngine, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := services.Subject{
			Addr: utils.ClientAddr(c),
			UA:   c.Request.UserAgent(),
		}
		if mf := c.Request.MultipartForm; mf != nil {
			if files := mf.File["file"]; len(files) > 0 {
				subject.MIME = files[0].Header.Get("Content-Type")
			}
		}

		v, err := engine.Evaluate(c.Request.Context(), subject)
		if err != nil {
			log.Warn("request filter lookup failed", zap.Error(err))
			c.Next()
			return
		}
		if v != nil {
			log.Info("request blocked",
				zap.String("ip", subject.Addr.String()),
				zap.String("reason", v.Reason))
			utils.Fail(c, http.StatusForbidden, v.Reason)
			return
		}
		c.Next()
	}
}
