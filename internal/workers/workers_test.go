// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/engine"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
)

// mockWorker is a test implementation of the Worker interface
// that tracks how many times Run was called.
type mockWorker struct {
	runCount int
}

func (m *mockWorker) Run() {
	m.runCount++
}

func TestWorkers_Run_AllWorkersAreCalled(t *testing.T) {
	w1 := &mockWorker{}
	w2 := &mockWorker{}
	w3 := &mockWorker{}

	ws := NewWorkers(w1, w2, w3)
	ws.Run()

	for i, w := range []*mockWorker{w1, w2, w3} {
		if w.runCount != 1 {
			t.Errorf("worker[%d]: expected runCount=1, got %d", i, w.runCount)
		}
	}
}

func TestWorkers_Run_Empty(t *testing.T) {
	ws := NewWorkers()

	// Should not panic on empty workers list
	ws.Run()
}

func TestWorkers_Run_Nil(t *testing.T) {
	ws := &Workers{}

	// Should not panic when workers field is nil
	ws.Run()
}

func TestWorkers_Run_Order(t *testing.T) {
	order := []int{}

	// orderWorker records its index into the shared order slice
	newOrderWorker := func(id int) Worker {
		return &orderWorker{id: id, order: &order}
	}

	ws := NewWorkers(
		newOrderWorker(1),
		newOrderWorker(2),
		newOrderWorker(3),
	)
	ws.Run()

	expected := []int{1, 2, 3}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("expected order[%d]=%d, got %d", i, v, order[i])
		}
	}
}

// orderWorker is a helper that appends its ID to a shared slice on Run.
type orderWorker struct {
	id    int
	order *[]int
}

func (o *orderWorker) Run() {
	*o.order = append(*o.order, o.id)
}

// mockSyncer counts Sync calls and signals each one on calls.
type mockSyncer struct {
	count atomic.Int32
	calls chan struct{}
	err   error
	token *interrupt.Token
}

func newMockSyncer() *mockSyncer {
	return &mockSyncer{calls: make(chan struct{}, 16)}
}

func (m *mockSyncer) Sync(ctx context.Context, token *interrupt.Token) (*engine.Report, error) {
	m.count.Add(1)
	m.token = token
	select {
	case m.calls <- struct{}{}:
	default:
	}
	if m.err != nil {
		return nil, m.err
	}
	return &engine.Report{}, nil
}

func waitForCall(t *testing.T, s *mockSyncer) {
	t.Helper()
	select {
	case <-s.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync call")
	}
}

func TestSyncWorker_SyncsImmediatelyOnStart(t *testing.T) {
	s := newMockSyncer()
	w := NewSyncWorker(s, logger.Nop(), time.Hour)
	defer w.Stop()

	w.Start(context.Background())
	waitForCall(t, s)

	if got := s.count.Load(); got != 1 {
		t.Errorf("expected 1 sync call, got %d", got)
	}
}

func TestSyncWorker_SyncsPeriodically(t *testing.T) {
	s := newMockSyncer()
	w := NewSyncWorker(s, logger.Nop(), 5*time.Millisecond)
	defer w.Stop()

	w.Start(context.Background())
	waitForCall(t, s)
	waitForCall(t, s)
	waitForCall(t, s)

	if got := s.count.Load(); got < 3 {
		t.Errorf("expected at least 3 sync calls, got %d", got)
	}
}

func TestSyncWorker_StopTripsTokenAndHalts(t *testing.T) {
	s := newMockSyncer()
	w := NewSyncWorker(s, logger.Nop(), time.Hour)

	w.Start(context.Background())
	waitForCall(t, s)
	w.Stop()

	if s.token == nil || !s.token.Interrupted() {
		t.Error("expected Stop to trip the cycle's interrupt token")
	}

	after := s.count.Load()
	time.Sleep(20 * time.Millisecond)
	if got := s.count.Load(); got != after {
		t.Errorf("expected no sync calls after Stop, got %d more", got-after)
	}
}

func TestSyncWorker_StopWithoutStart(t *testing.T) {
	w := NewSyncWorker(newMockSyncer(), logger.Nop(), time.Hour)

	// Should not panic or block when the job was never started
	w.Stop()
	w.Stop()
}

func TestSyncWorker_StartReplacesPreviousJob(t *testing.T) {
	s := newMockSyncer()
	w := NewSyncWorker(s, logger.Nop(), time.Hour)
	defer w.Stop()

	w.Start(context.Background())
	waitForCall(t, s)
	first := s.token

	w.Start(context.Background())
	waitForCall(t, s)

	if first == nil || !first.Interrupted() {
		t.Error("expected restarting to trip the previous cycle's token")
	}
	if s.token == first {
		t.Error("expected a fresh token for the new job")
	}
}

func TestSyncWorker_KeepsTickingAfterFailure(t *testing.T) {
	s := newMockSyncer()
	s.err = context.DeadlineExceeded
	w := NewSyncWorker(s, logger.Nop(), 5*time.Millisecond)
	defer w.Stop()

	w.Start(context.Background())
	waitForCall(t, s)
	waitForCall(t, s)
}
