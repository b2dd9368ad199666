package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, found, _ := s.Get(ctx, "k"); found {
		t.Fatal("empty store returned a value")
	}
	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b, found, err := s.Get(ctx, "k")
	if err != nil || !found || string(b) != "v" {
		t.Fatalf("Get = %q %v %v", b, found, err)
	}
	b[0] = 'x'
	b, _, _ = s.Get(ctx, "k")
	if string(b) != "v" {
		t.Errorf("stored value mutated through returned slice: %q", b)
	}
	_ = s.Delete(ctx, "k")
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("value survived Delete")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	if _, found, _ := s.Get(ctx, "k"); !found {
		t.Fatal("value expired early")
	}
	now = now.Add(2 * time.Minute)
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("value outlived its ttl")
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	type rec struct {
		A int `json:"a"`
	}
	if err := SetJSON(ctx, s, "r", rec{A: 7}, 0); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got rec
	found, err := GetJSON(ctx, s, "r", &got)
	if err != nil || !found || got.A != 7 {
		t.Fatalf("GetJSON = %+v %v %v", got, found, err)
	}

	_ = s.Set(ctx, "bad", []byte("{not json"), 0)
	found, err = GetJSON(ctx, s, "bad", &got)
	if err != nil || found {
		t.Errorf("corrupt value: found=%v err=%v, want miss", found, err)
	}
	if _, present, _ := s.Get(ctx, "bad"); present {
		t.Error("corrupt value not evicted")
	}
}
