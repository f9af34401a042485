package xfer

import (
	"errors"
	"testing"
)

func TestConfigNilIsSafe(t *testing.T) {
	var c *Config
	if c.reregister() {
		t.Fatalf("nil Config should not request re-register mode")
	}
	if c.depth() != defaultDepth {
		t.Fatalf("nil Config should fall back to defaultDepth, got %d", c.depth())
	}
	if c.maxWorkers() != defaultMaxWorkers {
		t.Fatalf("nil Config should fall back to defaultMaxWorkers, got %d", c.maxWorkers())
	}
	if c.metrics() != nil {
		t.Fatalf("nil Config should report nil metrics")
	}
	c.debugf("unreachable %d", 1)
	c.debugw("unreachable")
	if span := c.startSpan("op"); span == nil {
		t.Fatalf("nil Config should still return a usable span")
	} else {
		span.End(nil)
	}
}

func TestConfigReregisterFlag(t *testing.T) {
	c := &Config{Reregister: true}
	if !c.reregister() {
		t.Fatalf("expected reregister() true when Config.Reregister is set")
	}
	c.Reregister = false
	if c.reregister() {
		t.Fatalf("expected reregister() false when Config.Reregister is cleared")
	}
}

func TestConfigDepthAndMaxWorkersOverride(t *testing.T) {
	c := &Config{Depth: 4, MaxWorkers: 2}
	if c.depth() != 4 {
		t.Fatalf("expected depth() to honor explicit Depth, got %d", c.depth())
	}
	if c.maxWorkers() != 2 {
		t.Fatalf("expected maxWorkers() to honor explicit MaxWorkers, got %d", c.maxWorkers())
	}

	zero := &Config{}
	if zero.depth() != defaultDepth {
		t.Fatalf("expected zero-value Depth to fall back to default, got %d", zero.depth())
	}
	if zero.maxWorkers() != defaultMaxWorkers {
		t.Fatalf("expected zero-value MaxWorkers to fall back to default, got %d", zero.maxWorkers())
	}
}

type fakeLogger struct {
	lastFormat string
}

func (f *fakeLogger) Debugf(format string, args ...any) {
	f.lastFormat = format
}

type fakeStructuredLogger struct {
	lastMsg string
}

func (f *fakeStructuredLogger) Debugw(msg string, keyvals ...any) {
	f.lastMsg = msg
}

type fakeSpan struct {
	ended     bool
	endErr    error
	recorded  error
	events    []string
}

func (s *fakeSpan) End(err error) {
	s.ended = true
	s.endErr = err
}

func (s *fakeSpan) AddEvent(name string, attrs ...TraceAttribute) {
	s.events = append(s.events, name)
}

func (s *fakeSpan) RecordError(err error) {
	s.recorded = err
}

type fakeTracer struct {
	span *fakeSpan
}

func (t *fakeTracer) StartSpan(name string, attrs ...TraceAttribute) Span {
	return t.span
}

func TestConfigLoggingAndTracingDelegation(t *testing.T) {
	lg := &fakeLogger{}
	slg := &fakeStructuredLogger{}
	span := &fakeSpan{}
	tracer := &fakeTracer{span: span}

	c := &Config{Logger: lg, StructuredLogger: slg, Tracer: tracer}

	c.debugf("hello %d", 1)
	if lg.lastFormat != "hello %d" {
		t.Fatalf("expected Logger.Debugf to be called, got %q", lg.lastFormat)
	}

	c.debugw("world")
	if slg.lastMsg != "world" {
		t.Fatalf("expected StructuredLogger.Debugw to be called, got %q", slg.lastMsg)
	}

	got := c.startSpan("op")
	if got != span {
		t.Fatalf("expected startSpan to delegate to Tracer")
	}
	got.End(errors.New("boom"))
	if !span.ended || span.endErr == nil {
		t.Fatalf("expected span.End to be recorded")
	}
}

func TestConfigContiguousFlag(t *testing.T) {
	c := &Config{Contiguous: true}
	if !c.Contiguous {
		t.Fatalf("expected Contiguous to round-trip through the struct literal")
	}
}
