package datastore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeLifecycle records calls and can be told to hang or fail.
type fakeLifecycle struct {
	mu    sync.Mutex
	calls []string
	hub   *Hub
	depth int

	hangStop  bool
	hangClear bool
	failStart error
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{hub: NewHub(nil)}
}

func (f *fakeLifecycle) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeLifecycle) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLifecycle) Start(ctx context.Context) error {
	f.record("start")
	return f.failStart
}

func (f *fakeLifecycle) Stop(ctx context.Context) error {
	f.record("stop")
	if f.hangStop {
		select {}
	}
	return nil
}

func (f *fakeLifecycle) Clear(ctx context.Context) error {
	f.record("clear")
	if f.hangClear {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeLifecycle) OutboxDepth(ctx context.Context) (int, error) { return f.depth, nil }
func (f *fakeLifecycle) Hub() *Hub                                      { return f.hub }

func quickOptions(mode ResetMode) ResetOptions {
	opts := DefaultResetOptions(mode)
	opts.OutboxTimeout = 50 * time.Millisecond
	opts.StopTimeout = 50 * time.Millisecond
	opts.ClearTimeout = 50 * time.Millisecond
	opts.StartTimeout = 50 * time.Millisecond
	return opts
}

func equalCalls(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestReset_Restart(t *testing.T) {
	lc := newFakeLifecycle()
	result, err := Reset(context.Background(), lc, quickOptions(ResetRestart))
	if err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if want := []string{"stop", "start"}; !equalCalls(lc.Calls(), want) {
		t.Errorf("calls = %v, want %v", lc.Calls(), want)
	}
	if !result.OutboxEmptyObserved || result.Stop != StepOK || result.Clear != StepSkipped || result.Start != StepOK {
		t.Errorf("result = %+v", result)
	}
}

func TestReset_ClearAndRestart(t *testing.T) {
	lc := newFakeLifecycle()
	result, err := Reset(context.Background(), lc, quickOptions(ResetClearAndRestart))
	if err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if want := []string{"stop", "clear", "start"}; !equalCalls(lc.Calls(), want) {
		t.Errorf("calls = %v, want %v", lc.Calls(), want)
	}
	if result.Clear != StepOK {
		t.Errorf("clear outcome = %s, want ok", result.Clear)
	}
}

func TestReset_StopTimeoutTolerated(t *testing.T) {
	lc := newFakeLifecycle()
	lc.hangStop = true

	start := time.Now()
	result, err := Reset(context.Background(), lc, quickOptions(ResetClearAndRestart))
	if err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if result.Stop != StepTimeout {
		t.Errorf("stop outcome = %s, want timeout", result.Stop)
	}
	if result.Start != StepOK {
		t.Errorf("start outcome = %s, want ok", result.Start)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Reset() took %v with a hanging stop", elapsed)
	}
}

func TestReset_StopTimeoutFatalWhenConfigured(t *testing.T) {
	lc := newFakeLifecycle()
	lc.hangStop = true
	opts := quickOptions(ResetRestart)
	opts.ProceedOnStopTimeout = false

	_, err := Reset(context.Background(), lc, opts)
	if !errors.Is(err, ErrStepTimeout) {
		t.Fatalf("Reset() error = %v, want ErrStepTimeout", err)
	}
	if want := []string{"stop"}; !equalCalls(lc.Calls(), want) {
		t.Errorf("calls = %v, want %v", lc.Calls(), want)
	}
}

func TestReset_ClearTimeoutFails(t *testing.T) {
	lc := newFakeLifecycle()
	lc.hangClear = true

	result, err := Reset(context.Background(), lc, quickOptions(ResetClearAndRestart))
	if !errors.Is(err, ErrStepTimeout) {
		t.Fatalf("Reset() error = %v, want ErrStepTimeout", err)
	}
	if result.Clear != StepTimeout || result.Start != StepSkipped {
		t.Errorf("result = %+v", result)
	}
}

func TestReset_StartError(t *testing.T) {
	lc := newFakeLifecycle()
	lc.failStart = errors.New("boom")

	result, err := Reset(context.Background(), lc, quickOptions(ResetRestart))
	if err == nil {
		t.Fatal("expected start error")
	}
	if result.Start != StepFailed {
		t.Errorf("start outcome = %s, want failed", result.Start)
	}
}

func TestReset_InvalidMode(t *testing.T) {
	if _, err := Reset(context.Background(), newFakeLifecycle(), ResetOptions{Mode: "rebuild"}); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestWaitForOutboxEmpty(t *testing.T) {
	lc := newFakeLifecycle()
	lc.depth = 3

	if WaitForOutboxEmpty(context.Background(), lc, 50*time.Millisecond) {
		t.Error("expected timeout with pending outbox")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		lc.hub.Publish(Event{Name: EventOutboxStatus, Data: OutboxStatus{IsEmpty: true}})
	}()
	if !WaitForOutboxEmpty(context.Background(), lc, 2*time.Second) {
		t.Error("expected outboxStatus{isEmpty:true} to be observed")
	}
}

type fakeWaiter struct {
	hub    *Hub
	synced bool
}

func (f *fakeWaiter) Hub() *Hub      { return f.hub }
func (f *fakeWaiter) IsSynced() bool { return f.synced }

func TestWaitForInitialSync(t *testing.T) {
	tests := []struct {
		name    string
		synced  bool
		publish EventName
		want    InitialSyncOutcome
	}{
		{name: "already synced", synced: true, want: InitialSyncReady},
		{name: "ready alias", publish: EventReady, want: InitialSyncReady},
		{name: "failed alias", publish: EventSyncQueriesFailed, want: InitialSyncFailed},
		{name: "timeout", want: InitialSyncTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWaiter{hub: NewHub(nil), synced: tt.synced}
			if tt.publish != "" {
				go func() {
					time.Sleep(20 * time.Millisecond)
					w.hub.Publish(Event{Name: tt.publish})
				}()
			}
			got := WaitForInitialSync(context.Background(), w, 200*time.Millisecond)
			if got != tt.want {
				t.Errorf("WaitForInitialSync() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHub_NormalizesAndUnsubscribes(t *testing.T) {
	hub := NewHub(nil)
	var got []EventName
	unsubscribe := hub.Listen(func(ev Event) { got = append(got, ev.Name) })

	hub.Publish(Event{Name: EventReady})
	hub.Publish(Event{Name: EventSyncQueriesFailed})
	hub.Publish(Event{Name: EventNetworkStatus, Data: NetworkStatus{Active: true}})
	unsubscribe()
	unsubscribe()
	hub.Publish(Event{Name: EventOutboxStatus})

	want := []EventName{EventSyncQueriesReady, EventSyncQueriesError, EventNetworkStatus}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}
