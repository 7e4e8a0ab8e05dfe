package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/fhost/services"
	"github.com/cppla/fhost/utils"
)

var errMethodNotAllowed = errors.New("method not allowed")

// statusFor maps a service error to the HTTP status and the body shown to
// the client. Bodies are the status text except for filter matches and
// remote failures.
func statusFor(err error) (int, string) {
	var pv *services.PolicyViolation
	var re *services.RemoteError
	switch {
	case errors.As(err, &pv):
		return http.StatusForbidden, pv.Reason
	case errors.As(err, &re):
		return re.Status, re.Error()
	case services.IsValidation(err):
		return http.StatusBadRequest, ""
	case errors.Is(err, services.ErrURLTooLong):
		return http.StatusRequestURITooLong, ""
	case errors.Is(err, services.ErrPermanentlyBlocked):
		return http.StatusUnavailableForLegalReasons, ""
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, ""
	case errors.Is(err, services.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, ""
	case errors.Is(err, services.ErrLengthRequired):
		return http.StatusLengthRequired, ""
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ""
	case errors.Is(err, errMethodNotAllowed):
		return http.StatusMethodNotAllowed, ""
	}
	return http.StatusInternalServerError, ""
}

func (fc *FhostController) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		fc.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	utils.Fail(c, status, msg)
}
