// Package rest implements the HTTP API. Every response uses the same
// envelope: {"success": bool, "message"?: string, ...data}.
package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatmate-app/chatmate/server/errs"
)

const serverErrorMsg = "Server error. Please try again later."

func respond(c *gin.Context, code int, data gin.H) {
	out := gin.H{"success": true}
	for k, v := range data {
		out[k] = v
	}
	c.JSON(code, out)
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"success": false, "message": message})
}

// failErr maps a service error to an HTTP response. Taxonomy errors carry
// their message to the client; anything else is a 500 with a generic message.
func failErr(c *gin.Context, err error) {
	code := errs.HTTPStatus(err)
	if code == http.StatusInternalServerError {
		fail(c, code, serverErrorMsg)
		return
	}
	fail(c, code, err.Error())
}
