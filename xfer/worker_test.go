package xfer

import (
	"sync"
	"testing"
)

func TestLoadAvgMarkAccumulatesBeforeRollover(t *testing.T) {
	var la LoadAvg
	la.Mark(1)
	la.Mark(1)
	if la.loops != 2 {
		t.Fatalf("expected loops to accumulate to 2, got %d", la.loops)
	}
	if la.Average() != 0 {
		t.Fatalf("expected Average to stay 0 before rollover, got %d", la.Average())
	}
}

func TestLoadAvgMarkRollsOverAt65536Samples(t *testing.T) {
	var la LoadAvg
	la.loops = 0xffff
	la.serviced = 0x10000
	la.Mark(0)
	if la.loops != 0 {
		t.Fatalf("expected loops to reset after rollover, got %d", la.loops)
	}
	if la.serviced != 0 {
		t.Fatalf("expected serviced to reset after rollover, got %d", la.serviced)
	}
	if got := la.Average(); got != 128 {
		t.Fatalf("expected fully-loaded rollover to average to 128 (half of 256), got %d", got)
	}
}

func TestLoadAvgAverageStartsZero(t *testing.T) {
	var la LoadAvg
	if la.Average() != 0 {
		t.Fatalf("expected a fresh LoadAvg to report 0, got %d", la.Average())
	}
}

// unknownConnector satisfies Connector but is neither *Receiver nor
// *Transmitter, exercising cqOf's default case.
type unknownConnector struct{}

func (unknownConnector) Pass(w *Worker, s *Session) (LoopControl, error) { return LoopEnd, nil }
func (unknownConnector) Cancel()                                        {}
func (unknownConnector) Close() error                                   { return nil }

func TestCqOfUnknownConnectorIsNil(t *testing.T) {
	if got := cqOf(unknownConnector{}); got != nil {
		t.Fatalf("expected cqOf to return nil for a connector type it doesn't recognize, got %v", got)
	}
}

func TestWorkerPoolJoinAllWithNoWorkers(t *testing.T) {
	p := NewWorkerPool(nil, 4, nil)
	var wg sync.WaitGroup
	if err := p.JoinAll(&wg); err != nil {
		t.Fatalf("JoinAll on an empty pool: %v", err)
	}
}

func TestWorkerPoolAssignSessionRejectsAfterSuspend(t *testing.T) {
	p := NewWorkerPool(nil, 4, nil)
	p.suspended = true
	var wg sync.WaitGroup
	if _, err := p.AssignSession(&Session{}, &wg); err == nil {
		t.Fatalf("expected AssignSession to reject once the pool is suspended")
	}
}
