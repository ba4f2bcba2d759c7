package events

import (
	"testing"
)

func TestEmitOrder(t *testing.T) {
	bus := NewBus[int]("test", nil)
	var got []string
	bus.On("tick", func(int) { got = append(got, "a") })
	bus.On("tick", func(int) { got = append(got, "b") })
	bus.On("tick", func(int) { got = append(got, "c") })

	if n := bus.Emit("tick", 1); n != 3 {
		t.Fatalf("Emit returned %d, want 3", n)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus[string]("test", nil)
	var seen []string
	bus.On("win", func(p string) { seen = append(seen, "first:"+p) })
	bus.On("win", func(string) { panic("boom") })
	bus.On("win", func(p string) { seen = append(seen, "third:"+p) })

	n := bus.Emit("win", "x")
	if n != 2 {
		t.Errorf("Emit returned %d, want 2", n)
	}
	if len(seen) != 2 {
		t.Fatalf("expected both healthy handlers to run, got %v", seen)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus[int]("test", nil)
	calls := 0
	unsub := bus.Subscribe("change", func(int) { calls++ })

	bus.Emit("change", 1)
	unsub()
	unsub()
	bus.Emit("change", 2)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if bus.Count("change") != 0 {
		t.Fatalf("expected no listeners left, got %d", bus.Count("change"))
	}
}

func TestOffUnknownID(t *testing.T) {
	bus := NewBus[int]("test", nil)
	id := bus.On("a", func(int) {})
	if bus.Off("a", id+100) {
		t.Fatal("Off should report false for an unknown id")
	}
	if !bus.Off("a", id) {
		t.Fatal("Off should remove a registered id")
	}
}

func TestHandlerMayRegisterDuringEmit(t *testing.T) {
	bus := NewBus[int]("test", nil)
	late := 0
	bus.On("e", func(int) {
		bus.On("e", func(int) { late++ })
	})

	bus.Emit("e", 0)
	if late != 0 {
		t.Fatalf("handler added during emit must not run in the same emit, ran %d", late)
	}
	bus.Emit("e", 0)
	if late != 1 {
		t.Fatalf("late handler ran %d times, want 1", late)
	}
}
