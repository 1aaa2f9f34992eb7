package middleware

import "github.com/gin-gonic/gin"

// errorBody mirrors handlers.ErrorResponse so requests rejected here carry the
// same envelope as handler errors.
type errorBody struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// abortError stops the chain with status and the standard error envelope.
func abortError(c *gin.Context, status int, code, msg string) {
	rid, _ := c.Get(requestIDKey)
	id := asString(rid)
	if id == "" {
		id = c.Writer.Header().Get(requestIDHeader)
	}
	c.AbortWithStatusJSON(status, errorBody{RequestID: id, Code: code, Message: msg})
}
