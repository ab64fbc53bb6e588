package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeInsufficientCredits = 1001
	CodeSystemBusy          = 1002
	CodeStorageUnavailable  = 1003
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// ErrorWithStatus 需要调用方按 HTTP 状态码区分处理的错误（如积分不足返回 402）
func ErrorWithStatus(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func ServerError(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusInternalServerError, CodeServerError, message)
}

// InsufficientCredits 积分不足，前端据此引导用户充值
func InsufficientCredits(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusPaymentRequired, CodeInsufficientCredits, message)
}

func SystemBusy(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusServiceUnavailable, CodeSystemBusy, message)
}

// StorageUnavailable 存储异常，本次操作未生效
func StorageUnavailable(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusInternalServerError, CodeStorageUnavailable, message)
}
