package limiter

import (
	"testing"
	"time"
)

func TestAdmitRespectsMaxPerIP(t *testing.T) {
	l := New(Config{MaxPerIP: 2, MaxTotal: 100})
	if !l.Admit("10.0.0.1") {
		t.Fatal("Admit #1 failed")
	}
	if !l.Admit("10.0.0.1") {
		t.Fatal("Admit #2 failed")
	}
	if l.Admit("10.0.0.1") {
		t.Fatal("Admit #3 should have been rejected by MaxPerIP")
	}
	if l.Count("10.0.0.1") != 2 {
		t.Fatalf("Count = %d, want 2", l.Count("10.0.0.1"))
	}
}

func TestAdmitRespectsMaxTotal(t *testing.T) {
	l := New(Config{MaxPerIP: 10, MaxTotal: 2})
	if !l.Admit("10.0.0.1") {
		t.Fatal("Admit #1 failed")
	}
	if !l.Admit("10.0.0.2") {
		t.Fatal("Admit #2 failed")
	}
	if l.Admit("10.0.0.3") {
		t.Fatal("Admit #3 should have been rejected by MaxTotal")
	}
}

func TestAdmitExactlyMinOfPerIPAndTotal(t *testing.T) {
	l := New(Config{MaxPerIP: 5, MaxTotal: 3})
	admitted := 0
	for i := 0; i < 10; i++ {
		if l.Admit("10.0.0.1") {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("admitted = %d, want min(maxPerIP, maxTotal) = 3", admitted)
	}
}

func TestCloseNeverGoesNegative(t *testing.T) {
	l := New(Config{MaxPerIP: 5, MaxTotal: 5})
	l.Close("10.0.0.1")
	l.Close("10.0.0.1")
	if l.Count("10.0.0.1") != 0 {
		t.Fatalf("Count = %d, want 0", l.Count("10.0.0.1"))
	}
	if l.Total() != 0 {
		t.Fatalf("Total = %d, want 0", l.Total())
	}
}

func TestCloseFreesCapacityForAdmit(t *testing.T) {
	l := New(Config{MaxPerIP: 1, MaxTotal: 1})
	if !l.Admit("10.0.0.1") {
		t.Fatal("Admit #1 failed")
	}
	if l.Admit("10.0.0.1") {
		t.Fatal("Admit #2 should be rejected while at MaxPerIP")
	}
	l.Close("10.0.0.1")
	if !l.Admit("10.0.0.1") {
		t.Fatal("Admit after Close should succeed")
	}
}

func TestIdleGCSweepsZeroedEntries(t *testing.T) {
	l := New(Config{MaxPerIP: 5, MaxTotal: 5, IdleGracePeriod: 30 * time.Millisecond})
	defer l.StopGC()

	l.Admit("10.0.0.1")
	l.Close("10.0.0.1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		_, exists := l.counts["10.0.0.1"]
		l.mu.Unlock()
		if !exists {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("idle entry was never swept")
}
