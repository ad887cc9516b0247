package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid   = errors.New("参数错误")
	ErrValidation     = errors.New("请求校验失败")
	ErrNotFound       = errors.New("资源不存在")
	ErrStoreFailure   = errors.New("存储异常，请稍后重试")
	UnauthorizedError = errors.New("权限不足")
	UnExpectedError   = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:   BadRequest,
	ErrValidation:     BadRequest,
	ErrNotFound:       NotFound,
	ErrStoreFailure:   InternalServerError,
	UnauthorizedError: Unauthorized,
	UnExpectedError:   InternalServerError,
}

// ClientMessage 返回可回给客户端的错误文案
// 服务端错误只暴露分类文案，驱动细节留在日志里；未登记的错误按系统异常处理
func ClientMessage(err error) (int, string) {
	for target, code := range ErrorMap {
		if errors.Is(err, target) {
			if code >= InternalServerError {
				return code, target.Error()
			}
			return code, err.Error()
		}
	}
	return InternalServerError, UnExpectedError.Error()
}
