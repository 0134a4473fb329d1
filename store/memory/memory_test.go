package memory_test

import (
	"context"
	"testing"

	"github.com/latchkit/latch/store/memory"
)

func TestStore_ConfigRoundTrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.SetConfig(ctx, "greeter", map[string]any{"greeting": "hi", "volume": 7}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	cfg, err := s.GetConfig(ctx, "greeter")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg["greeting"] != "hi" || cfg["volume"] != 7 {
		t.Errorf("config = %v", cfg)
	}

	// The store hands out copies.
	cfg["greeting"] = "tampered"
	again, err := s.GetConfig(ctx, "greeter")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if again["greeting"] != "hi" {
		t.Errorf("mutating a returned config leaked into the store: %v", again)
	}
}

func TestStore_MissingConfigIsEmpty(t *testing.T) {
	s := memory.New()

	cfg, err := s.GetConfig(context.Background(), "never-saved")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected an empty map, got nil")
	}
	if len(cfg) != 0 {
		t.Errorf("expected empty config, got %v", cfg)
	}
}

func TestStore_EnabledSet(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	got, err := s.EnabledSet(ctx)
	if err != nil {
		t.Fatalf("EnabledSet: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fresh store enabled set = %v, want empty", got)
	}

	if err := s.SaveEnabledSet(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("SaveEnabledSet: %v", err)
	}
	got, err = s.EnabledSet(ctx)
	if err != nil {
		t.Fatalf("EnabledSet: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("enabled set = %v, want [a b]", got)
	}

	if err := s.SaveEnabledSet(ctx, nil); err != nil {
		t.Fatalf("SaveEnabledSet(nil): %v", err)
	}
	got, err = s.EnabledSet(ctx)
	if err != nil {
		t.Fatalf("EnabledSet: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("enabled set after clearing = %v, want empty", got)
	}
}

func TestStore_PingAndClose(t *testing.T) {
	s := memory.New()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
