/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package undercover

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryOneSessionPerID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	s, err := r.Create("room1", "creator", testWords())
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}
	if s.ID != "room1" || s.CreatorID != "creator" {
		t.Errorf("session = %s/%s, want room1/creator", s.ID, s.CreatorID)
	}

	if _, err := r.Create("room1", "other", testWords()); !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("second Create() = %v, want ErrDuplicateAction", err)
	}

	got, ok := r.Get("room1")
	if !ok || got != s {
		t.Errorf("Get() = %v, %v, want original session", got, ok)
	}

	r.Delete("room1")
	if _, ok := r.Get("room1"); ok {
		t.Error("session still present after Delete()")
	}

	if _, err := r.Create("room1", "creator", testWords()); err != nil {
		t.Errorf("Create() after Delete() = %v, want success", err)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("room%d", i%8)
			_, _ = r.Create(id, "creator", testWords())
			_, _ = r.Get(id)
			if i%4 == 0 {
				r.Delete(id)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() > 8 {
		t.Errorf("Len() = %d, want at most 8", r.Len())
	}
}

func TestGuessRegistryLifecycle(t *testing.T) {
	t.Parallel()

	g := NewGuessRegistry()

	if err := g.Register("alice", "room1"); err != nil {
		t.Fatalf("Register(): %v", err)
	}
	if err := g.Register("alice", "room2"); !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("second Register() = %v, want ErrDuplicateAction", err)
	}

	if sid, ok := g.Lookup("alice"); !ok || sid != "room1" {
		t.Errorf("Lookup() = %s, %v, want room1", sid, ok)
	}

	sid, err := g.Resolve("alice")
	if err != nil || sid != "room1" {
		t.Fatalf("Resolve() = %s, %v, want room1", sid, err)
	}

	if _, err := g.Resolve("alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Resolve() = %v, want ErrNotFound", err)
	}
	if _, ok := g.Lookup("alice"); ok {
		t.Error("entry survived Resolve()")
	}
}

func TestGuessRegistryDropSession(t *testing.T) {
	t.Parallel()

	g := NewGuessRegistry()

	_ = g.Register("alice", "room1")
	_ = g.Register("bob", "room2")

	g.DropSession("room1")

	if _, ok := g.Lookup("alice"); ok {
		t.Error("room1 guess survived DropSession")
	}
	if _, ok := g.Lookup("bob"); !ok {
		t.Error("room2 guess dropped by mistake")
	}
}
