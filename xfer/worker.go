package xfer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hyoklee/fabtsuite/fi"
)

// WorkerSessionsMax bounds how many sessions one worker multiplexes, split
// evenly between the worker's two halves.
const WorkerSessionsMax = 64

// payloadPoolDepth is how many payload buffers each worker's Rx/Tx pool
// starts with capacity for.
const payloadPoolDepth = 16

// LoadAvg is an exponentially-weighted moving average of how many of a
// worker's polled queues actually held a completion, expressed as a Q8.8
// fixed-point fraction (256 == fully loaded). It is advisory telemetry; no
// assignment decision in WorkerPool reads it back.
type LoadAvg struct {
	average  atomic.Uint32
	loops    uint32
	serviced uint32
}

// Mark folds one poll's serviced-queue count into the average, rolling the
// average over once loops has accumulated 65536 samples.
func (la *LoadAvg) Mark(serviced int) {
	la.serviced += uint32(serviced)
	if la.loops < 0xffff {
		la.loops++
		return
	}
	prev := la.average.Load()
	next := (prev + 256*la.serviced/0x10000) / 2
	la.average.Store(next)
	la.loops = 0
	la.serviced = 0
}

// Average returns the current Q8.8 load average.
func (la *LoadAvg) Average() uint32 { return la.average.Load() }

// Worker multiplexes many sessions' connection and terminal progress onto
// one goroutine. Its session table is split into two halves, each guarded
// by its own mutex and backed by its own poll-set, so assignSession can add
// a session to whichever half isn't currently being serviced.
type Worker struct {
	pool      *WorkerPool
	idx       int
	mu        [2]sync.Mutex
	pollSet   [2]*fi.PollSet
	sessions  [2][WorkerSessionsMax / 2]*Session
	nsessions [2]atomic.Int64
	avg       LoadAvg
	cancelled atomic.Bool
	failed    atomic.Bool
	err       error
	RxPool    *BufList
	TxPool    *BufList
	keys      KeySource
}

// WorkerPool owns the set of workers a program's connections are
// distributed across, growing workers on demand up to a fixed ceiling and
// retiring them once every session has drained.
type WorkerPool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	domain    *fi.Domain
	rxAccess  fi.MRAccessFlag
	txAccess  fi.MRAccessFlag
	maxWorker int
	workers   []*Worker
	running   int
	suspended bool
	config    *Config
}

// NewWorkerPool creates a pool that will grow to at most maxWorkers workers,
// each registering its payload buffers against domain. cfg may be nil, in
// which case the pool's lifecycle events are not logged, traced, or
// counted.
func NewWorkerPool(domain *fi.Domain, maxWorkers int, cfg *Config) *WorkerPool {
	p := &WorkerPool{
		domain:    domain,
		rxAccess:  fi.MRAccessRemoteWrite,
		txAccess:  fi.MRAccessLocal,
		maxWorker: maxWorkers,
		config:    cfg,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (w *Worker) assignSession(s *Session) bool {
	for half := 0; half < 2; half++ {
		if !w.mu[half].TryLock() {
			continue
		}

		placed := false
		for i := range w.sessions[half] {
			if w.sessions[half][i] != nil {
				continue
			}
			cq := cqOf(s.Cxn)
			if cq == nil {
				continue
			}
			if err := w.pollSet[half].Add(cq, 0); err != nil {
				continue
			}
			w.sessions[half][i] = s
			w.nsessions[half].Add(1)
			placed = true
			break
		}
		w.mu[half].Unlock()
		if placed {
			return true
		}
	}
	return false
}

// cqOf extracts the completion queue a connector polls on, so the worker
// pool can register it with a poll-set without depending on the concrete
// Receiver/Transmitter type.
func cqOf(c Connector) *fi.CompletionQueue {
	switch v := c.(type) {
	case *Receiver:
		return v.CQ
	case *Transmitter:
		return v.CQ
	default:
		return nil
	}
}

// runPass polls both halves once, driving one step of every occupied
// session slot's connector loop and retiring any that have ended.
func (w *Worker) runPass() {
	for half := 0; half < 2; half++ {
		if !w.mu[half].TryLock() {
			continue
		}

		if _, err := w.pollSet[half].Poll(1); err != nil {
			w.mu[half].Unlock()
			w.failed.Store(true)
			if m := w.pool.config.metrics(); m != nil {
				m.WorkerPollError("poll", err, map[string]string{"half": fmt.Sprint(half)})
			}
			continue
		}

		serviced := 0
		for i := range w.sessions[half] {
			s := w.sessions[half][i]
			if s == nil {
				continue
			}

			span := w.pool.config.startSpan("worker.pass",
				TraceAttribute{Key: "worker_index", Value: w.idx},
				TraceAttribute{Key: "session_id", Value: s.ID.String()})
			ctl, err := s.Cxn.Pass(w, s)
			span.End(err)
			switch {
			case err != nil:
				w.failed.Store(true)
				if w.err == nil {
					w.err = NewSessionError(s.ID, "pass", err)
				}
				fallthrough
			case ctl == LoopEnd:
				cq := cqOf(s.Cxn)
				if cq != nil {
					_ = w.pollSet[half].Del(cq, 0)
				}
				_ = s.Cxn.Close()
				w.sessions[half][i] = nil
				w.nsessions[half].Add(-1)
			default:
				serviced++
			}
		}

		w.mu[half].Unlock()
		w.avg.Mark(serviced)
		if serviced > 0 {
			w.pool.config.debugw("cxn_loop", "worker_index", w.idx, "half", half, "serviced", serviced)
		}
	}
}

// isIdle reports whether this worker currently has no sessions and is the
// most-recently-started running worker, retiring it from the pool's
// running count if so.
func (w *Worker) isIdle() bool {
	if w.nsessions[0].Load() != 0 || w.nsessions[1].Load() != 0 {
		return false
	}

	p := w.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if w.idx+1 != p.running {
		return false
	}
	if w.nsessions[0].Load() != 0 || w.nsessions[1].Load() != 0 {
		return false
	}

	p.running--
	p.cond.Broadcast()
	return true
}

func (w *Worker) waitForWork() {
	p := w.pool
	p.mu.Lock()
	for p.running <= w.idx && !w.cancelled.Load() {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// outerLoop is the goroutine body launched for every worker: sleep until
// the pool has work for this worker's index, then run passes until either
// the worker goes idle or the pool cancels it.
func (w *Worker) outerLoop(wg *sync.WaitGroup) {
	defer wg.Done()
	attrs := map[string]string{"worker_index": fmt.Sprint(w.idx)}
	for !w.cancelled.Load() {
		w.waitForWork()
		if m := w.pool.config.metrics(); m != nil {
			m.WorkerStarted(attrs)
		}
		for {
			w.runPass()
			if w.isIdle() || w.cancelled.Load() {
				break
			}
		}
		if m := w.pool.config.metrics(); m != nil {
			m.WorkerStopped(attrs)
		}
	}
}

func (p *WorkerPool) initWorker(idx int) (*Worker, error) {
	w := &Worker{pool: p, idx: idx}
	for half := 0; half < 2; half++ {
		ps, err := p.domain.OpenPollSet(&fi.PollSetAttr{})
		if err != nil {
			return nil, err
		}
		w.pollSet[half] = ps
	}
	rereg := p.config.reregister()
	w.RxPool = NewBufList(p.domain, &w.keys, p.rxAccess, payloadPoolDepth, rereg)
	w.TxPool = NewBufList(p.domain, &w.keys, p.txAccess, payloadPoolDepth, rereg)
	if _, err := w.RxPool.Replenish(); err != nil {
		return nil, err
	}
	if _, err := w.TxPool.Replenish(); err != nil {
		return nil, err
	}
	return w, nil
}

// assignToRunning tries every currently-running worker, most recently
// started first, looking for room for s.
func (p *WorkerPool) assignToRunning(s *Session) *Worker {
	for i := p.running; i > 0; i-- {
		w := p.workers[i-1]
		if w.assignSession(s) {
			return w
		}
	}
	return nil
}

// assignToIdle tries the next allocated-but-sleeping worker.
func (p *WorkerPool) assignToIdle(s *Session) *Worker {
	if p.running >= len(p.workers) {
		return nil
	}
	w := p.workers[p.running]
	if w.assignSession(s) {
		return w
	}
	return nil
}

func (p *WorkerPool) wake(w *Worker) {
	p.running++
	p.cond.Broadcast()
}

// AssignSession places s onto some worker, preferring an already-running
// one with room, then an idle allocated worker, then growing the pool by
// one fresh worker, in that order, until placement succeeds or the pool has
// been suspended (during shutdown) or is at capacity.
func (p *WorkerPool) AssignSession(s *Session, wg *sync.WaitGroup) (*Worker, error) {
	for {
		p.mu.Lock()
		if p.suspended {
			p.mu.Unlock()
			return nil, fmt.Errorf("xfer: worker pool is shutting down")
		}

		if w := p.assignToRunning(s); w != nil {
			p.mu.Unlock()
			return w, nil
		}
		if w := p.assignToIdle(s); w != nil {
			p.wake(w)
			p.mu.Unlock()
			return w, nil
		}
		canGrow := len(p.workers) < p.maxWorker
		p.mu.Unlock()

		if !canGrow {
			return nil, fmt.Errorf("xfer: worker pool exhausted at %d workers", p.maxWorker)
		}

		w, err := p.initWorker(len(p.workers))
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.workers = append(p.workers, w)
		p.mu.Unlock()

		wg.Add(1)
		go w.outerLoop(wg)
	}
}

// JoinAll waits for every session to drain, cancels every worker, and waits
// for their goroutines to exit, returning the first failure any worker
// observed.
func (p *WorkerPool) JoinAll(wg *sync.WaitGroup) error {
	p.mu.Lock()
	p.suspended = true
	for p.running > 0 {
		p.cond.Wait()
	}
	workers := p.workers
	for _, w := range workers {
		w.cancelled.Store(true)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	wg.Wait()

	for _, w := range workers {
		if w.failed.Load() {
			if w.err != nil {
				return w.err
			}
			return fmt.Errorf("xfer: worker pool: at least one worker failed")
		}
	}
	return nil
}
