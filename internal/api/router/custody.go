package router

import (
	"github.com/gin-gonic/gin"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/api/handler"
)

func Custody(api *gin.RouterGroup, h *handler.Custody) {
	custody := api.Group("/custody")
	{
		custody.GET("/deposit-address", h.DepositAddress)
		custody.GET("/balance", h.Balance)
		custody.POST("/withdrawals", h.Withdraw)
		custody.GET("/withdrawals/:id", h.Detail)
		custody.POST("/withdrawals/:id/approve", h.Approve)
		custody.POST("/withdrawals/:id/reject", h.Reject)
	}
}
