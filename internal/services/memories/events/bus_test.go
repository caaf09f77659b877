package events

import (
	"testing"
	"time"

	"snapvault/internal/services/memories/domain"
)

func ev(t domain.EventType, payload any) domain.Event {
	return domain.Event{Type: t, RunID: "run-1", At: time.Now(), Payload: payload}
}

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := NewBus()
	chA, cancelA := b.Subscribe(4)
	chB, cancelB := b.Subscribe(4)
	defer cancelA()
	defer cancelB()

	b.Publish(ev(domain.EventLog, "starting"))

	for name, ch := range map[string]<-chan domain.Event{"a": chA, "b": chB} {
		select {
		case got := <-ch:
			if got.Type != domain.EventLog || got.Payload != "starting" {
				t.Fatalf("subscriber %s got %+v", name, got)
			}
		default:
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	t.Parallel()

	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(ev(domain.EventLog, "first"))
	b.Publish(ev(domain.EventLog, "second")) // dropped, buffer full

	got := <-ch
	if got.Payload != "first" {
		t.Fatalf("payload = %v, want first", got.Payload)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestCancelStopsDeliveryAndClosesChannel(t *testing.T) {
	t.Parallel()

	b := NewBus()
	ch, cancel := b.Subscribe(4)
	cancel()
	cancel() // idempotent

	b.Publish(ev(domain.EventLog, "after-cancel"))

	if got, open := <-ch; open {
		t.Fatalf("channel still open, got %+v", got)
	}
}

func TestSubscribeAfterPublishMissesHistory(t *testing.T) {
	t.Parallel()

	b := NewBus()
	b.Publish(ev(domain.EventLog, "before-anyone"))

	ch, cancel := b.Subscribe(4)
	defer cancel()
	select {
	case got := <-ch:
		t.Fatalf("late subscriber received %+v", got)
	default:
	}
}
