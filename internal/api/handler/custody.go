package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/service"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/common"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// Custody 托管对外接口
// 用户侧：查充值地址、查余额、申请提现
// 管理侧：审核/驳回提现。鉴权在网关做，这里只认参数里的 admin_id
type Custody struct {
	Addresses *service.AddressService
	Ledger    *service.LedgerService
	Withdraws *service.WithdrawService
}

// DepositAddress GET /custody/deposit-address?uid=&currency=
func (h *Custody) DepositAddress(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Query("uid"), 10, 64)
	if err != nil || uid <= 0 {
		common.Fail(c, 400, xerr.RequestParamsError, "uid 非法")
		return
	}
	currency := c.Query("currency")
	if currency == "" {
		common.Fail(c, 400, xerr.RequestParamsError, "currency 必填")
		return
	}

	addr, err := h.Addresses.GetDepositAddress(c.Request.Context(), uid, currency)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{
		"uid":      uid,
		"currency": currency,
		"address":  addr,
	})
}

// Balance GET /custody/balance?uid=&currency=
func (h *Custody) Balance(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Query("uid"), 10, 64)
	if err != nil || uid <= 0 {
		common.Fail(c, 400, xerr.RequestParamsError, "uid 非法")
		return
	}
	currency := c.Query("currency")
	if currency == "" {
		common.Fail(c, 400, xerr.RequestParamsError, "currency 必填")
		return
	}

	b, err := h.Ledger.GetBalance(c.Request.Context(), uid, currency)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{
		"uid":       uid,
		"currency":  currency,
		"total":     b.Total.String(),
		"available": b.Available.String(),
	})
}

type withdrawReq struct {
	Uid      int64  `json:"uid" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	To       string `json:"to" binding:"required"`
}

// Withdraw POST /custody/withdrawals
func (h *Custody) Withdraw(c *gin.Context) {
	var req withdrawReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, 400, xerr.RequestParamsError, xerr.MapErrMsg(xerr.RequestParamsError))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		common.Fail(c, 400, xerr.RequestParamsError, "amount 非法")
		return
	}

	w, err := h.Withdraws.Request(c.Request.Context(), req.Uid, req.Currency, amount, req.To)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{
		"id":     w.ID,
		"status": int(w.Status),
		"fee":    w.Fee.String(),
	})
}

type reviewReq struct {
	AdminId int64  `json:"admin_id" binding:"required"`
	Reason  string `json:"reason"`
}

// Approve POST /custody/withdrawals/:id/approve
func (h *Custody) Approve(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		common.Fail(c, 400, xerr.RequestParamsError, "id 非法")
		return
	}
	var req reviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, 400, xerr.RequestParamsError, xerr.MapErrMsg(xerr.RequestParamsError))
		return
	}

	if err := h.Withdraws.Approve(c.Request.Context(), id, req.AdminId); err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{"id": id})
}

// Reject POST /custody/withdrawals/:id/reject
func (h *Custody) Reject(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		common.Fail(c, 400, xerr.RequestParamsError, "id 非法")
		return
	}
	var req reviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, 400, xerr.RequestParamsError, xerr.MapErrMsg(xerr.RequestParamsError))
		return
	}

	if err := h.Withdraws.Reject(c.Request.Context(), id, req.AdminId, req.Reason); err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{"id": id})
}

// Detail GET /custody/withdrawals/:id
func (h *Custody) Detail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		common.Fail(c, 400, xerr.RequestParamsError, "id 非法")
		return
	}
	w, err := h.Withdraws.Get(c.Request.Context(), id)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{
		"id":       w.ID,
		"uid":      w.UserID,
		"currency": w.Currency,
		"amount":   w.Amount.String(),
		"fee":      w.Fee.String(),
		"to":       w.ToAddress,
		"status":   int(w.Status),
		"tx_ref":   w.TxRef,
		"notes":    w.AdminNotes,
		"error":    w.ErrorMsg,
	})
}
