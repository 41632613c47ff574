package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hxuan190/token-aggregator/internal/common"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func HandleSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// HandleError writes err as an error envelope. A *common.HttpError keeps its
// status and code; anything else is a 500.
func HandleError(c *gin.Context, err error) {
	var httpErr *common.HttpError
	if !errors.As(err, &httpErr) {
		httpErr = common.HTTPErrorInternalError("")
	}
	c.JSON(httpErr.StatusCode, Response{
		Success: false,
		Error:   httpErr.Message,
		Code:    httpErr.Code,
	})
}
