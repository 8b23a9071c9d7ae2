package xerr

import (
	"errors"
	"fmt"
)

// 通用错误码
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	ServerCommonError  = 500
	DbError            = 501
)

// 资金托管错误码 (6xx 段)
const (
	InsufficientFunds       = 601 // 可用余额不足，冻结被拒
	InsufficientPoolBalance = 602 // 资金池链上余额不足，拒绝广播
	InvalidAddress          = 603 // 目标地址格式非法
	DuplicateDeposit        = 604 // 幂等短路：该交易已入账过
	ChainUnavailable        = 605 // 链上查询失败，下个周期重试
	BroadcastFailed         = 606 // 提现广播失败，必须解冻
	InconsistentState       = 607 // 状态与账本脱节，由对账自愈
	InvalidTransition       = 608 // 非 pending 状态不允许审核/驳回
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// IsCode 判断错误链上是否有指定错误码
func IsCode(err error, code int) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case InsufficientFunds:
		return "可用余额不足"
	case InsufficientPoolBalance:
		return "资金池余额不足"
	case InvalidAddress:
		return "地址格式非法"
	case DuplicateDeposit:
		return "该笔充值已入账"
	case ChainUnavailable:
		return "链上服务暂不可用"
	case BroadcastFailed:
		return "交易广播失败"
	case InconsistentState:
		return "账务状态不一致"
	case InvalidTransition:
		return "订单状态不允许该操作"
	default:
		return "未知错误"
	}
}
