package notification

import (
	"errors"
	"sync"
	"testing"
)

type stubNotifier struct {
	name     string
	enabled  bool
	failures int // number of leading calls to fail before succeeding
	calls    int
	mu       sync.Mutex
	received []*Notification
}

func (s *stubNotifier) Name() string    { return s.name }
func (s *stubNotifier) IsEnabled() bool { return s.enabled }
func (s *stubNotifier) Send(n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.received = append(s.received, n)
	if s.calls <= s.failures {
		return errors.New("stub transport failure")
	}
	return nil
}

func newFastManager() *Manager {
	m := NewManager(nil)
	m.baseDelay = 0
	return m
}

func TestManager_Send_SkipsDisabledNotifiers(t *testing.T) {
	m := newFastManager()
	disabled := &stubNotifier{name: "disabled", enabled: false}
	m.AddNotifier(disabled)

	m.Send(&Notification{Type: NotifyInfo, Title: "test"})

	if disabled.calls != 0 {
		t.Errorf("expected disabled notifier to never be called, got %d calls", disabled.calls)
	}
}

func TestManager_Send_RetriesOnFailureThenSucceeds(t *testing.T) {
	m := newFastManager()
	flaky := &stubNotifier{name: "flaky", enabled: true, failures: 2}
	m.AddNotifier(flaky)

	m.Send(&Notification{Type: NotifyInfo, Title: "test"})

	if flaky.calls != 3 {
		t.Errorf("expected 2 failures then a success (3 calls), got %d", flaky.calls)
	}
}

func TestManager_Send_DropsAfterExhaustingRetries(t *testing.T) {
	m := newFastManager()
	m.maxRetries = 2
	alwaysFails := &stubNotifier{name: "broken", enabled: true, failures: 1000}
	m.AddNotifier(alwaysFails)

	err := m.Send(&Notification{Type: NotifyInfo, Title: "test"})
	if err != nil {
		t.Errorf("Send must never propagate transport failures to the caller, got %v", err)
	}
	if alwaysFails.calls != 3 {
		t.Errorf("expected maxRetries+1 attempts (3), got %d", alwaysFails.calls)
	}
}

func TestManager_SendEarlyExit_SuppressedByDeduplicator(t *testing.T) {
	m := newFastManager()
	notifier := &stubNotifier{name: "n", enabled: true}
	m.AddNotifier(notifier)
	m.SetDeduplicator(alwaysBlockDedup{})

	m.SendEarlyExit("BTCUSDT", "1h", "conservative", "exec-1", "leverage_decision", "unsafe_leverage", "msg", "detail", nil)

	if notifier.calls != 0 {
		t.Errorf("expected deduplicator to suppress delivery, got %d calls", notifier.calls)
	}
}

func TestManager_SendEarlyExit_DeliversWhenDeduplicatorAllows(t *testing.T) {
	m := newFastManager()
	notifier := &stubNotifier{name: "n", enabled: true}
	m.AddNotifier(notifier)
	m.SetDeduplicator(alwaysAllowDedup{})

	m.SendEarlyExit("BTCUSDT", "1h", "conservative", "exec-1", "leverage_decision", "unsafe_leverage", "msg", "detail", []string{"relax strictness"})

	if notifier.calls != 1 {
		t.Fatalf("expected delivery, got %d calls", notifier.calls)
	}
	sent := notifier.received[0]
	if sent.Type != NotifyEarlyExit || sent.Reason != "unsafe_leverage" || sent.ExecutionID != "exec-1" {
		t.Errorf("expected early-exit payload fields to be carried through, got %+v", sent)
	}
}

type alwaysBlockDedup struct{}

func (alwaysBlockDedup) ShouldSend(key string) bool { return false }

type alwaysAllowDedup struct{}

func (alwaysAllowDedup) ShouldSend(key string) bool { return true }
