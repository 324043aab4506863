package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %s", got)
	}
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	ctx := context.Background()

	_ = m.Set(ctx, "k", []byte("v"), time.Second)
	m.now = func() time.Time { return base.Add(2 * time.Second) }

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestMemory_Miss(t *testing.T) {
	if _, ok, err := NewMemory().Get(context.Background(), "absent"); ok || err != nil {
		t.Errorf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestMemory_Incr(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := m.Incr(ctx, "gen")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
	b, ok, _ := m.Get(ctx, "gen")
	if !ok || string(b) != "3" {
		t.Errorf("expected counter readable as 3, got %q ok=%v", b, ok)
	}
}

func TestMemory_SweepsUnreadExpiredEntries(t *testing.T) {
	m := NewMemory()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	ctx := context.Background()

	// Generation bumps orphan the previous keys, which are never read again.
	for i := 0; i < 1000; i++ {
		gen, _ := m.Incr(ctx, "slots:gen:doc")
		_ = m.Set(ctx, "slots:doc:"+formatInt(gen)+":2025-03-03", []byte("[]"), time.Second)
	}
	if n := m.Len(); n != 1001 {
		t.Fatalf("expected 1001 live entries before expiry, got %d", n)
	}

	m.now = func() time.Time { return base.Add(2 * time.Second) }
	for i := 0; i < sweepEvery; i++ {
		_ = m.Set(ctx, "slots:doc:fresh", []byte("[]"), time.Minute)
	}

	// Only the generation counter and the fresh key survive.
	if n := m.Len(); n != 2 {
		t.Errorf("expected 2 entries after sweep, got %d", n)
	}
	if _, ok, _ := m.Get(ctx, "slots:gen:doc"); !ok {
		t.Error("counter without ttl was swept")
	}
	if _, ok, _ := m.Get(ctx, "slots:doc:fresh"); !ok {
		t.Error("unexpired entry was swept")
	}
}
