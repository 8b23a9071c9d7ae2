package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailFromErr 业务错误统一出口
// 对外只回 biz code + 固定文案，原始 err 只进日志，不透出内部信息
func FailFromErr(c *gin.Context, err error) {
	var ce *xerr.CodeError
	if !errors.As(err, &ce) {
		logger.Error(c, "http internal error",
			zap.String("request_id", RequestIDFromGin(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		Fail(c, http.StatusInternalServerError, xerr.ServerCommonError, xerr.MapErrMsg(xerr.ServerCommonError))
		return
	}

	logger.Warn(c, "http business error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", ce.Code),
		zap.Error(err),
	)
	Fail(c, httpStatusFor(ce.Code), ce.Code, xerr.MapErrMsg(ce.Code))
}

func httpStatusFor(code int) int {
	switch code {
	case xerr.RequestParamsError, xerr.InvalidAddress:
		return http.StatusBadRequest
	case xerr.RecordNotFound:
		return http.StatusNotFound
	case xerr.InsufficientFunds, xerr.InsufficientPoolBalance, xerr.InvalidTransition, xerr.DuplicateDeposit:
		return http.StatusConflict
	case xerr.ChainUnavailable, xerr.BroadcastFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
