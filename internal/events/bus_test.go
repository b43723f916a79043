package events

import (
	"testing"
	"time"
)

func TestPublishSubscribeDeliversMatchingKind(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe(KindTradeExecuted)
	defer sub.Unsubscribe()

	bus.Publish(Event{Kind: KindBotStarted, Data: map[string]interface{}{}})
	bus.Publish(Event{Kind: KindTradeExecuted, BotID: "bot-1", Data: map[string]interface{}{"side": "BUY"}})

	select {
	case e := <-sub.C:
		if e.Kind != KindTradeExecuted || e.BotID != "bot-1" {
			t.Fatalf("expected only the filtered kind to be delivered, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case e := <-sub.C:
		t.Fatalf("did not expect a second event (bot_started was filtered out), got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Unsubscribe()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected channel to be closed after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestSlowSubscriberNeverBlocksPublisher(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe(KindLogMessage)
	defer sub.Unsubscribe()

	// Flood well past queueDepth without ever draining sub.C; Publish must
	// never block regardless of how far behind the subscriber falls.
	done := make(chan struct{})
	go func() {
		for i := 0; i < queueDepth*4; i++ {
			bus.Publish(Event{Kind: KindLogMessage, Data: map[string]interface{}{}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked against a saturated slow subscriber")
	}
}

func TestLogMessageConvenienceWrapper(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe(KindLogMessage)
	defer sub.Unsubscribe()

	bus.LogMessage("bot-2", "error", "tick failed")

	select {
	case e := <-sub.C:
		if e.BotID != "bot-2" || e.Data["level"] != "error" || e.Data["message"] != "tick failed" {
			t.Errorf("unexpected event payload: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for LogMessage event")
	}
}
