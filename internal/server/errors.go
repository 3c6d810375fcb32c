package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithError writes the JSON error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": err.Error(),
	})
}
