package realtime_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/realtime"
)

func TestMachine_HappyPath(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []realtime.Transition
	)
	m := realtime.NewMachine(func(tr realtime.Transition) {
		mu.Lock()
		got = append(got, tr)
		mu.Unlock()
	})

	path := []realtime.State{
		realtime.StateConnecting,
		realtime.StateAwaitingSessionCreated,
		realtime.StateConfiguring,
		realtime.StateActive,
		realtime.StateClosing,
		realtime.StateClosed,
	}
	for _, s := range path {
		if err := m.To(s); err != nil {
			t.Fatalf("To(%s): %v", s, err)
		}
	}
	if m.State() != realtime.StateClosed {
		t.Fatalf("State = %s, want closed", m.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(path) {
		t.Fatalf("observed %d transitions, want %d", len(got), len(path))
	}
	prev := realtime.StateIdle
	for i, tr := range got {
		if tr.From != prev || tr.To != path[i] {
			t.Errorf("transition %d = %s->%s, want %s->%s", i, tr.From, tr.To, prev, path[i])
		}
		prev = tr.To
	}
}

func TestMachine_RejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup []realtime.State
		to    realtime.State
	}{
		{name: "skip connecting", to: realtime.StateActive},
		{name: "backwards", setup: []realtime.State{realtime.StateConnecting}, to: realtime.StateIdle},
		{name: "closed without closing", setup: []realtime.State{realtime.StateConnecting}, to: realtime.StateClosed},
		{name: "closing twice", setup: []realtime.State{realtime.StateClosing}, to: realtime.StateClosing},
		{name: "leave closed", setup: []realtime.State{realtime.StateClosing, realtime.StateClosed}, to: realtime.StateConnecting},
		{name: "error via To", to: realtime.StateError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := realtime.NewMachine(nil)
			for _, s := range tc.setup {
				if err := m.To(s); err != nil {
					t.Fatalf("setup To(%s): %v", s, err)
				}
			}
			before := m.State()
			if err := m.To(tc.to); !errors.Is(err, realtime.ErrInvalidTransition) {
				t.Fatalf("To(%s) error = %v, want ErrInvalidTransition", tc.to, err)
			}
			if m.State() != before {
				t.Errorf("state changed to %s on rejected transition", m.State())
			}
		})
	}
}

func TestMachine_Fail(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	var seen realtime.Transition
	m := realtime.NewMachine(func(tr realtime.Transition) { seen = tr })

	if err := m.To(realtime.StateConnecting); err != nil {
		t.Fatal(err)
	}
	if !m.Fail(cause) {
		t.Fatal("Fail returned false from connecting")
	}
	if seen.To != realtime.StateError || !errors.Is(seen.Err, cause) {
		t.Errorf("observer got %+v, want error transition with cause", seen)
	}
	if m.Fail(cause) {
		t.Error("Fail from terminal state returned true")
	}
	if err := m.To(realtime.StateClosing); !errors.Is(err, realtime.ErrInvalidTransition) {
		t.Errorf("To(closing) after error = %v, want ErrInvalidTransition", err)
	}
}

func TestMachine_FailFromClosing(t *testing.T) {
	t.Parallel()

	m := realtime.NewMachine(nil)
	if err := m.To(realtime.StateClosing); err != nil {
		t.Fatal(err)
	}
	if !m.Fail(errors.New("teardown")) {
		t.Fatal("Fail from closing returned false")
	}
	if !m.State().Terminal() {
		t.Errorf("State = %s, want terminal", m.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	if got := realtime.StateAwaitingSessionCreated.String(); got != "awaiting_session_created" {
		t.Errorf("String = %q", got)
	}
	if got := realtime.State(99).String(); got != "unknown" {
		t.Errorf("String(99) = %q, want unknown", got)
	}
}
