package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/target-gallery/internal/errors"
)

// Response 成功响应结构
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// respondOK 返回成功响应
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// respondError 按错误码返回HTTP状态，不带调用栈
func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrUnknown)
	}

	body := *appErr
	body.Stack = nil
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.NewErrorResponse(&body))
}
