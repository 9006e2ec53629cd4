package session

import "testing"

func TestRecentReturnsLastTurnsInOrder(t *testing.T) {
	r := NewRecord("s1", "b1")
	r.Append("user", "first")
	r.Append("assistant", "second")
	r.Append("user", "third")

	recent := r.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(recent))
	}
	if recent[0].Content != "second" || recent[1].Content != "third" {
		t.Fatalf("unexpected turns: %+v", recent)
	}

	if got := r.Recent(10); len(got) != 3 {
		t.Fatalf("oversized window should return all turns, got %d", len(got))
	}
	if got := r.Recent(0); got != nil {
		t.Fatalf("zero window should return nil, got %+v", got)
	}
}

func TestLastExchange(t *testing.T) {
	r := NewRecord("s1", "")
	r.Append("user", "who is the captain?")
	r.Append("assistant", "Ahab commands the Pequod.")
	r.Append("user", "and the narrator?")

	question, answer := r.LastExchange()
	if question != "and the narrator?" {
		t.Fatalf("unexpected question: %q", question)
	}
	if answer != "Ahab commands the Pequod." {
		t.Fatalf("unexpected answer: %q", answer)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := NewRecord("s1", "")
	r.Append("user", "hello")

	clone := r.Clone()
	clone.Append("user", "extra")
	if len(r.Turns) != 1 {
		t.Fatalf("clone mutation leaked into original: %d turns", len(r.Turns))
	}
}
