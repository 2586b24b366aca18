package mailbox

import (
	"sync"
	"testing"
	"time"
)

func TestPutOverwritesPending(t *testing.T) {
	m := New[int]()

	if m.Put(1) {
		t.Fatal("first Put should not report an overwrite")
	}
	if !m.Put(2) {
		t.Fatal("second Put should overwrite the pending value")
	}
	m.Put(3)

	if got := m.Len(); got != 1 {
		t.Fatalf("Expected exactly one pending value, got %d", got)
	}
	if got := m.Drops(); got != 2 {
		t.Errorf("Expected 2 drops, got %d", got)
	}

	v, ok := m.TryTake()
	if !ok || v != 3 {
		t.Fatalf("Expected newest value 3, got %d (ok=%v)", v, ok)
	}
	if _, ok := m.TryTake(); ok {
		t.Fatal("slot should be empty after take")
	}
}

func TestTakeTimesOut(t *testing.T) {
	m := New[string]()

	start := time.Now()
	if _, ok := m.Take(20 * time.Millisecond); ok {
		t.Fatal("Expected timeout on empty mailbox")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Take returned too early: %v", elapsed)
	}
}

func TestTakeWakesOnPut(t *testing.T) {
	m := New[int]()

	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = m.Take(time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	m.Put(42)
	wg.Wait()

	if !ok || got != 42 {
		t.Fatalf("Expected 42, got %d (ok=%v)", got, ok)
	}
}

func TestCloseWakesConsumer(t *testing.T) {
	m := New[int]()

	done := make(chan bool)
	go func() {
		_, ok := m.Take(5 * time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	m.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected no value from closed mailbox")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the consumer")
	}

	if m.Put(1) {
		t.Error("Put on closed mailbox should be a no-op")
	}
	if m.Len() != 0 {
		t.Error("closed mailbox should not accept values")
	}
}

func TestClear(t *testing.T) {
	m := New[int]()
	m.Put(7)
	m.Clear()
	if m.Len() != 0 {
		t.Fatal("Clear should empty the slot")
	}
}
