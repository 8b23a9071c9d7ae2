package notify

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
)

// 事件主题
const (
	SubjectDepositCredited = "custody.deposit.credited"
	SubjectWithdrawSettled = "custody.withdraw.settled"
)

// Notifier 通知出口
// 尽力而为：投递失败只打日志，绝不影响账本事务
type Notifier interface {
	DepositCredited(ctx context.Context, ev domain.DepositCreditedEvent)
	WithdrawSettled(ctx context.Context, ev domain.WithdrawSettledEvent)
}

// NatsNotifier 走 NATS 广播给通知服务 (邮件/站内信都是它下游)
type NatsNotifier struct {
	nc *nats.Conn
}

var _ Notifier = (*NatsNotifier)(nil)

func NewNats(url string, opts ...nats.Option) (*NatsNotifier, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsNotifier{nc: nc}, nil
}

func (n *NatsNotifier) DepositCredited(ctx context.Context, ev domain.DepositCreditedEvent) {
	n.publish(ctx, SubjectDepositCredited, ev)
}

func (n *NatsNotifier) WithdrawSettled(ctx context.Context, ev domain.WithdrawSettledEvent) {
	n.publish(ctx, SubjectWithdrawSettled, ev)
}

func (n *NatsNotifier) publish(ctx context.Context, subject string, ev interface{}) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error(ctx, "通知序列化失败", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := n.nc.Publish(subject, payload); err != nil {
		// 失败只记日志，账已经入了就是入了
		logger.Warn(ctx, "通知投递失败", zap.String("subject", subject), zap.Error(err))
	}
}

func (n *NatsNotifier) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
	}
}

// Nop 空实现，测试和通知服务不可用时用
type Nop struct{}

var _ Notifier = (*Nop)(nil)

func (Nop) DepositCredited(context.Context, domain.DepositCreditedEvent) {}
func (Nop) WithdrawSettled(context.Context, domain.WithdrawSettledEvent) {}
