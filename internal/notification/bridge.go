package notification

import (
	"context"
	"fmt"

	"cyphertrade/internal/events"
)

// RunBridge subscribes to the event bus and forwards trade/bot-lifecycle
// events to every configured notifier until ctx is cancelled. This is how
// the teacher's ad hoc SendSignal/SendTradeOpen/SendTradeClose call sites
// (once invoked directly from the bot control loop) get driven under this
// spec's event-bus architecture instead.
func RunBridge(ctx context.Context, bus *events.Bus, m *Manager) {
	if m == nil {
		return
	}
	sub := bus.Subscribe(events.KindTradeExecuted, events.KindBotStarted, events.KindBotStopped, events.KindBotStartFailed)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			forward(m, e)
		}
	}
}

func forward(m *Manager, e events.Event) {
	switch e.Kind {
	case events.KindBotStarted:
		_ = m.Send(&Notification{
			Type:    NotifyInfo,
			Title:   fmt.Sprintf("Bot started: %v", e.Data["symbol"]),
			Message: fmt.Sprintf("strategy=%v autonomous=%v", e.Data["strategy"], e.Data["autonomous"]),
			Extra:   e.Data,
		})
	case events.KindBotStartFailed:
		_ = m.SendError(fmt.Sprintf("Bot failed to start: %v", e.Data["symbol"]), fmt.Sprintf("%v", e.Data["reason"]))
	case events.KindBotStopped:
		_ = m.Send(&Notification{
			Type:  NotifyInfo,
			Title: "Bot stopped",
			Extra: e.Data,
		})
	case events.KindTradeExecuted:
		side, _ := e.Data["side"].(string)
		price, _ := e.Data["execution_price"].(float64)
		if pnl, ok := e.Data["pnl_pct"].(float64); ok {
			_ = m.Send(&Notification{
				Type:       NotifyTradeClose,
				Title:      fmt.Sprintf("Trade closed: %v", e.Data["trade_id"]),
				Message:    fmt.Sprintf("%s @ %.4f, pnl %.2f%%, reason=%v", side, price, pnl, e.Data["exit_reason"]),
				Price:      price,
				PnLPercent: pnl,
				Extra:      e.Data,
			})
			return
		}
		_ = m.SendTradeOpen("", side, price, 0)
	}
}
