package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestStoreGetOrCreateAppendClear(t *testing.T) {
	s := NewStore()
	sess, err := s.GetOrCreate("abc")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess.Key != "abc" || len(sess.Turns) != 0 {
		t.Fatalf("unexpected new session: %+v", sess)
	}

	if err := s.Append("abc", UserTurn("hi"), AssistantTurn("hello")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := s.GetOrCreate("abc")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("len(Turns) = %d, want 2", len(got.Turns))
	}
	if got.Turns[0].Label() != "User" || got.Turns[1].Label() != "AI" {
		t.Fatalf("labels = %q/%q", got.Turns[0].Label(), got.Turns[1].Label())
	}

	if !s.Clear("abc") {
		t.Fatalf("Clear() = false, want true for existing session")
	}
	if _, err := s.Get("abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after clear error = %v, want ErrNotFound", err)
	}
	if s.Clear("abc") {
		t.Fatalf("second Clear() = true, want false")
	}
}

func TestStoreAppendRequiresSession(t *testing.T) {
	s := NewStore()
	if err := s.Append("missing", UserTurn("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Append() error = %v, want ErrNotFound", err)
	}
	if err := s.Append(" ", UserTurn("x")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Append() error = %v, want ErrInvalidKey", err)
	}
	if _, err := s.GetOrCreate(""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("GetOrCreate() error = %v, want ErrInvalidKey", err)
	}
}

func TestStoreAppendRejectsBrokenAlternation(t *testing.T) {
	s := NewStore()
	if _, err := s.GetOrCreate("abc"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := s.Append("abc", AssistantTurn("out of order")); !errors.Is(err, ErrTurnOrder) {
		t.Fatalf("Append() error = %v, want ErrTurnOrder", err)
	}
	if err := s.Append("abc", UserTurn("a"), UserTurn("b")); !errors.Is(err, ErrTurnOrder) {
		t.Fatalf("Append() error = %v, want ErrTurnOrder", err)
	}
	if n := s.Len("abc"); n != 0 {
		t.Fatalf("Len() = %d, want 0 after rejected appends", n)
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	s := NewStore()
	sess, _ := s.GetOrCreate("abc")
	_ = s.Append("abc", UserTurn("q"), AssistantTurn("a"))
	if len(sess.Turns) != 0 {
		t.Fatalf("earlier snapshot changed: %d turns", len(sess.Turns))
	}

	got, _ := s.Get("abc")
	got.Turns[0].Text = "mutated"
	again, _ := s.Get("abc")
	if again.Turns[0].Text != "q" {
		t.Fatalf("store mutated through snapshot: %q", again.Turns[0].Text)
	}
}

func TestStoreLockSerializesAppends(t *testing.T) {
	s := NewStore()
	const workers = 16

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := s.Lock("abc")
			defer unlock()
			if _, err := s.GetOrCreate("abc"); err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
				return
			}
			q := fmt.Sprintf("q%d", i)
			if err := s.Append("abc", UserTurn(q), AssistantTurn("a"+q)); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get("abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Turns) != 2*workers {
		t.Fatalf("len(Turns) = %d, want %d", len(got.Turns), 2*workers)
	}
	for i := 0; i < len(got.Turns); i += 2 {
		u, a := got.Turns[i], got.Turns[i+1]
		if u.Role != RoleUser || a.Role != RoleAssistant || a.Text != "a"+u.Text {
			t.Fatalf("turns %d/%d not paired: %+v %+v", i, i+1, u, a)
		}
	}
}
