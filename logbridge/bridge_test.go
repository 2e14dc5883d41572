package logbridge

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wgnt"
	"wgnt/internal/drivertest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type collector struct {
	mu   sync.Mutex
	recs []wgnt.LogRecord
}

func (c *collector) handle(rec wgnt.LogRecord) {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
}

func (c *collector) records() []wgnt.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wgnt.LogRecord(nil), c.recs...)
}

func TestDeliverPreservesOrderPerAdapter(t *testing.T) {
	t.Parallel()

	fallback := &collector{}
	b := New(fallback.handle, WithQueueSize(1024))
	defer b.Close()

	demo := &collector{}
	sub, err := b.Subscribe("Demo", demo.handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < 500; i++ {
		b.Deliver(wgnt.LogInfo, uint64(i), fmt.Sprintf("Demo: line %d", i))
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := demo.records()
	if len(got) != 500 {
		t.Fatalf("delivered %d records, want 500", len(got))
	}
	for i, rec := range got {
		if rec.Timestamp != uint64(i) || rec.Message != fmt.Sprintf("line %d", i) {
			t.Fatalf("record %d = %+v, out of order or prefix kept", i, rec)
		}
		if rec.Adapter != "Demo" {
			t.Fatalf("record %d adapter = %q, want Demo", i, rec.Adapter)
		}
	}
}

func TestUnattributedLinesReachFallback(t *testing.T) {
	t.Parallel()

	fallback := &collector{}
	b := New(fallback.handle)

	demo := &collector{}
	if _, err := b.Subscribe("Demo", demo.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	b.Deliver(wgnt.LogWarn, 1, "Other: not ours")
	b.Deliver(wgnt.LogErr, 2, "no prefix at all")
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := fallback.records()
	if len(got) != 2 {
		t.Fatalf("fallback got %d records, want 2", len(got))
	}
	if got[0].Message != "Other: not ours" || got[0].Adapter != "" || got[0].Level != wgnt.LogWarn {
		t.Errorf("fallback record 0 = %+v", got[0])
	}
	if len(demo.records()) != 0 {
		t.Errorf("Demo subscription got %d records, want 0", len(demo.records()))
	}
}

func TestClosedSubscriptionReceivesNothing(t *testing.T) {
	t.Parallel()

	fallback := &collector{}
	b := New(fallback.handle)
	defer b.Close()

	demo := &collector{}
	sub, err := b.Subscribe("Demo", demo.handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	b.Deliver(wgnt.LogInfo, 1, "Demo: before")
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	b.Deliver(wgnt.LogInfo, 2, "Demo: after")

	if got := demo.records(); len(got) != 1 || got[0].Message != "before" {
		t.Fatalf("records after close = %+v, want only the line delivered before Close", got)
	}

	// The name is free again.
	again, err := b.Subscribe("Demo", nil)
	if err != nil {
		t.Fatalf("re-Subscribe() error = %v", err)
	}
	_ = again.Close()
}

func TestSubscribeDuplicate(t *testing.T) {
	t.Parallel()

	b := New(func(wgnt.LogRecord) {})
	defer b.Close()

	if _, err := b.Subscribe("Demo", nil); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := b.Subscribe("Demo", nil); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("second Subscribe() error = %v, want ErrAlreadySubscribed", err)
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	t.Parallel()

	b := New(func(wgnt.LogRecord) {})
	_ = b.Close()
	if _, err := b.Subscribe("Demo", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Subscribe() error = %v, want ErrClosed", err)
	}
	// Lines arriving after close are dropped, not panicking on a closed queue.
	b.Deliver(wgnt.LogInfo, 0, "Demo: late")
}

func TestDeliverDoesNotBlockOnSlowHandler(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	b := New(func(wgnt.LogRecord) {}, WithQueueSize(1), WithMetrics(metrics))
	defer b.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sub, err := b.Subscribe("Demo", func(wgnt.LogRecord) {
		once.Do(func() { close(started) })
		<-release
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	b.Deliver(wgnt.LogInfo, 0, "Demo: first")
	<-started

	begin := time.Now()
	for i := 0; i < 9; i++ {
		b.Deliver(wgnt.LogInfo, uint64(i+1), "Demo: flood")
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("Deliver blocked for %s", elapsed)
	}

	close(release)
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.Dropped.WithLabelValues("Demo")); got != 8 {
		t.Errorf("dropped = %v, want 8", got)
	}
	if got := testutil.ToFloat64(metrics.Records.WithLabelValues("Demo")); got != 2 {
		t.Errorf("delivered = %v, want 2", got)
	}
}

func TestSendTimeoutWaitsForSpace(t *testing.T) {
	t.Parallel()

	b := New(func(wgnt.LogRecord) {}, WithQueueSize(1), WithSendTimeout(2*time.Second))
	defer b.Close()

	demo := &collector{}
	gate := make(chan struct{})
	sub, err := b.Subscribe("Demo", func(rec wgnt.LogRecord) {
		<-gate
		demo.handle(rec)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()
	for i := 0; i < 3; i++ {
		b.Deliver(wgnt.LogInfo, uint64(i), "Demo: wait")
	}
	_ = sub.Close()

	if got := len(demo.records()); got != 3 {
		t.Fatalf("delivered %d records, want 3", got)
	}
}

func TestAttachInstallsDriverLogger(t *testing.T) {
	t.Parallel()

	table := drivertest.New()
	fallback := &collector{}
	b := New(fallback.handle)

	if err := b.Attach(table); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	table.Log(wgnt.LogInfo, 7, "driver loaded")
	if err := b.Detach(); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	table.Log(wgnt.LogInfo, 8, "after detach")
	_ = b.Close()

	got := fallback.records()
	if len(got) != 1 || got[0].Message != "driver loaded" || got[0].Timestamp != 7 {
		t.Fatalf("fallback records = %+v, want the single line logged while attached", got)
	}
}
