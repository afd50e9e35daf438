package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeOK     = 0
	codeFailed = -1
)

// Response is the envelope of every JSON reply.
type Response struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

func Success(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, Response{Code: codeOK, Data: data, Message: message})
}

func Created(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusCreated, Response{Code: codeOK, Data: data, Message: message})
}

// Error aborts the request with a failure envelope. err is a message or an
// error; internal errors are logged in full but reach the client only as the
// status text.
func Error(c *gin.Context, status int, err interface{}) {
	var msg string
	switch e := err.(type) {
	case string:
		msg = e
	case error:
		msg = e.Error()
	}

	log := zap.S().With("method", c.Request.Method, "path", c.Request.URL.Path, "status", status)
	if status == http.StatusInternalServerError {
		log.Errorw("request failed", "error", msg)
		msg = http.StatusText(status)
	} else {
		log.Debugw("request rejected", "error", msg)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, Response{Code: codeFailed, Message: msg})
}

// Fail writes err with the status derived from its domain error kind.
func Fail(c *gin.Context, err error) {
	Error(c, HTTPStatus(err), err)
}
