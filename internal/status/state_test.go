package status

import (
	"testing"
	"time"

	"github.com/opencomm/opdesk/internal/bus"
)

func TestValidPath(t *testing.T) {
	m := NewMachine(nil)

	path := []State{Connecting, Live, Reconnecting, Degraded, Connecting, Live, Closed}
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if m.Current() != Closed {
		t.Errorf("state = %s, want %s", m.Current(), Closed)
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Live); err == nil {
		t.Error("Idle -> Live should be rejected")
	}
	if m.Current() != Idle {
		t.Errorf("state changed on rejected transition: %s", m.Current())
	}
}

func TestSelfTransitionNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Idle); err != nil {
		t.Fatalf("self transition: %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("self transition published event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransitionPublishesChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type %T, want Change", evt.Payload)
		}
		if change.From != Idle || change.To != Connecting {
			t.Errorf("change = %+v, want Idle -> Connecting", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestClosedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Closed); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Connecting); err == nil {
		t.Error("Closed should be terminal")
	}
}
