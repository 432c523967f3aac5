package testutil

import (
	"testing"
	"time"
)

func TestCounterNextCoverage(t *testing.T) {
	counter := &Counter{}
	if next := counter.Next(); next != 1 {
		t.Fatalf("expected first counter value 1, got %d", next)
	}
	if next := counter.Next(); next != 2 {
		t.Fatalf("expected second counter value 2, got %d", next)
	}
	if value := counter.Value(); value != 2 {
		t.Fatalf("expected counter value 2, got %d", value)
	}
}

func TestRecorderWaitLen(t *testing.T) {
	recorder := NewRecorder[string]()
	go func() {
		recorder.Record("a")
		recorder.Record("b")
	}()
	if !recorder.WaitLen(2, time.Second) {
		t.Fatalf("expected two recorded values, got %d", recorder.Len())
	}
	values := recorder.Values()
	if values[0] != "a" || values[1] != "b" {
		t.Fatalf("unexpected recorded values: %v", values)
	}
	if recorder.WaitLen(3, 10*time.Millisecond) {
		t.Fatalf("expected wait for a third value to time out")
	}
}

func TestEventually(t *testing.T) {
	calls := 0
	if !Eventually(func() bool { calls++; return calls > 3 }, time.Second) {
		t.Fatalf("expected condition to become true")
	}
	if Eventually(func() bool { return false }, 5*time.Millisecond) {
		t.Fatalf("expected condition to stay false")
	}
}
