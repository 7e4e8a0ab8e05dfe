package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONResponse is the envelope for the few JSON endpoints (health).
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusOK, 0, "success", data)
}

// Text writes a plain text body. Clients of this service are mostly curl.
func Text(ctx *gin.Context, status int, body string) {
	ctx.Data(status, "text/plain; charset=utf-8", []byte(body))
}

// Fail aborts with a one-line plain text message; an empty message uses the
// status text.
func Fail(ctx *gin.Context, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	Text(ctx, status, message+"\n")
	ctx.Abort()
}
