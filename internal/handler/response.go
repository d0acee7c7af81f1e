package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ApiResponse 所有接口统一的响应结构，Code 为 0 表示成功
type ApiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// JSON err 为 nil 时返回 200，否则以 status 返回错误信息
func JSON(c *gin.Context, status int, err error, data any) {
	if err == nil {
		c.JSON(http.StatusOK, ApiResponse{Code: 0, Message: "ok", Data: data})
		return
	}
	c.JSON(status, ApiResponse{Code: status, Message: err.Error(), Data: data})
}
