package device

import (
	"io"
	"log/slog"
	"testing"
)

func TestEventBusFiltersByType(t *testing.T) {
	eb := NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var all, chans int
	eb.Subscribe(func(Event) { all++ })
	unsub := eb.Subscribe(func(Event) { chans++ }, EventChannels)

	eb.Emit(Event{Type: EventChannels})
	eb.Emit(Event{Type: EventSettings})
	if all != 2 || chans != 1 {
		t.Errorf("all=%d chans=%d, want 2 and 1", all, chans)
	}

	unsub()
	eb.Emit(Event{Type: EventChannels})
	if chans != 1 {
		t.Errorf("handler called after unsubscribe")
	}
}

func TestEventBusRecoversPanic(t *testing.T) {
	eb := NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	called := false
	eb.Subscribe(func(Event) { panic("boom") })
	eb.Subscribe(func(Event) { called = true })
	eb.Emit(Event{Type: EventStatus})
	if !called {
		t.Error("second handler not called after panic")
	}
}

func TestNilEventBus(t *testing.T) {
	var eb *EventBus
	eb.Emit(Event{Type: EventStatus})
}
