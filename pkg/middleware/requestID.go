package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/common"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
)

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.New()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// 写入 request context，让下游日志都能带上 trace
		ctx := context.WithValue(c.Request.Context(), logger.TraceIdKey, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
