package statemachine

import (
	"errors"
	"fmt"
	"go.uber.org/goleak"
	"testing"
)

func TestFSM(t *testing.T) {
	defer goleak.VerifyNone(t)

	m1 := New[string, string]()
	err := m1.Initialize("foo", StateMap[string, string]{
		"bar": func(e string) (string, error) { return "bar", nil },
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatal("did not catch invalid initial state")
	}

	m2 := New[string, int]()
	err = m2.Initialize("foo", StateMap[string, int]{
		"foo": func(e int) (string, error) { return "bar", nil },
		"bar": func(e int) (string, error) { return "bad", nil },
		"bad": func(e int) (string, error) {
			if e == 1 {
				return "evil", nil
			}
			return "foo", nil
		},
	})
	if err != nil {
		t.Fatal("did not initialize")
	}
	for i := 0; i < 5; i++ {
		err = m2.Event(0)
		if err != nil {
			t.Fatal("event failed")
		}
	}
	if m2.State() != "bad" {
		t.Fatal("wrong state arrived at")
	}
	err = m2.Event(1)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatal("did not catch invalid state")
	}
	if m2.State() != "bad" {
		t.Fatal("state changed after invalid transition")
	}
}

func TestFSMTransitionError(t *testing.T) {
	defer goleak.VerifyNone(t)

	errRefused := fmt.Errorf("refused")
	allow := false
	var seen []string
	m := New[string, string]()
	err := m.Initialize("off", StateMap[string, string]{
		"off": func(e string) (string, error) {
			if e != "on" {
				return "off", nil
			}
			if !allow {
				return "off", errRefused
			}
			return "on", nil
		},
		"on": func(e string) (string, error) {
			if e == "off" {
				return "off", nil
			}
			return "on", nil
		},
	})
	if err != nil {
		t.Fatalf("error initializing: %s", err)
	}
	m.OnTransition(func(from string, to string, e string) {
		seen = append(seen, from+"->"+to)
	})
	if err = m.Event("on"); !errors.Is(err, errRefused) {
		t.Fatalf("expected refusal, got %v", err)
	}
	if m.State() != "off" {
		t.Fatalf("state changed after failed transition: %s", m.State())
	}
	allow = true
	for _, e := range []string{"on", "on", "off"} {
		if err = m.Event(e); err != nil {
			t.Fatalf("error on event %s: %s", e, err)
		}
	}
	if len(seen) != 2 || seen[0] != "off->on" || seen[1] != "on->off" {
		t.Fatalf("unexpected transitions: %v", seen)
	}
}
