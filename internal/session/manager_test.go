package session

import (
	"sync"
	"testing"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/pkg/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.NewConfig(
		config.WithLogger(model.NewTestLogger()),
	)
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	return m
}

func TestNextFrameIDIsMonotonicModulo256(t *testing.T) {
	m := newTestManager(t)

	const workers = 8
	const perWorker = 64

	seen := make(chan byte, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				seen <- m.NextFrameID()
			}
		}()
	}
	wg.Wait()
	close(seen)

	// workers*perWorker == 512 so every id must occur exactly twice.
	counts := make(map[byte]int)
	for id := range seen {
		counts[id]++
	}
	if len(counts) != 256 {
		t.Fatalf("expected all 256 ids, got %d", len(counts))
	}
	for id, n := range counts {
		if n != 2 {
			t.Fatalf("id %d allocated %d times, want 2", id, n)
		}
	}
}

func TestManagerSeedsStaticIPv4(t *testing.T) {
	profile := config.NewProfile()
	profile.PPPDoRequestStaticIPv4 = true
	profile.PPPStaticIPv4 = [4]byte{10, 0, 0, 5}
	cfg := config.NewConfig(
		config.WithLogger(model.NewTestLogger()),
		config.WithProfile(profile),
	)
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	if got := m.CurrentIPv4(); got != [4]byte{10, 0, 0, 5} {
		t.Fatalf("expected static address seeded, got %v", got)
	}
}

func TestManagerHLAKLifecycle(t *testing.T) {
	m := newTestManager(t)
	if _, ok := m.HLAK(); ok {
		t.Fatal("expected no HLAK initially")
	}
	var hlak [32]byte
	hlak[0] = 0xAB
	m.SetHLAK(hlak)
	got, ok := m.HLAK()
	if !ok || got != hlak {
		t.Fatalf("HLAK mismatch: ok=%v got=%v", ok, got)
	}
}

func TestManagerGUIDIsSet(t *testing.T) {
	m := newTestManager(t)
	if m.GUID() == "" {
		t.Fatal("expected a GUID")
	}
	if m.GUID() == newTestManager(t).GUID() {
		t.Fatal("expected distinct GUIDs per attempt")
	}
}
