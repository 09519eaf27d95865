package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Common errors shared by all services (service code 00).
var (
	// OK indicates success.
	OK = Register(New(0, http.StatusOK, codes.OK, "OK", "成功"))

	ErrBadRequest       = NewRequestErr(ServiceCommon, 1, "Bad request", "请求错误")
	ErrInvalidParam     = NewRequestErr(ServiceCommon, 2, "Invalid parameter", "参数无效")
	ErrValidationFailed = NewRequestErr(ServiceCommon, 3, "Validation failed", "校验失败")
	ErrRequestTooLarge  = NewError(ServiceCommon, CategoryRequest, 4, http.StatusRequestEntityTooLarge,
		codes.InvalidArgument, "Request body too large", "请求体过大")

	ErrNotFound      = NewNotFoundErr(ServiceCommon, 1, "Resource not found", "资源不存在")
	ErrRouteNotFound = NewNotFoundErr(ServiceCommon, 2, "Route not found", "路由不存在")

	ErrTooManyRequests = NewRateLimitErr(ServiceCommon, 1, "Too many requests", "请求过于频繁")

	ErrInternal = NewInternalErr(ServiceCommon, 1, "Internal server error", "服务器内部错误")
	ErrUnknown  = NewInternalErr(ServiceCommon, 2, "Unknown error", "未知错误")

	ErrServiceUnavailable = NewNetworkErr(ServiceCommon, 1, "Service unavailable", "服务不可用")
	ErrTimeout            = NewTimeoutErr(ServiceCommon, 1, "Operation timeout", "操作超时")
	ErrConfig             = NewConfigErr(ServiceCommon, 1, "Invalid configuration", "配置无效")
)
