// Unit tests for the rig metrics primitives
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"math"
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("rig_moves_total", "Moves executed")

	if got := c.Get(nil); got != 0 {
		t.Fatalf("fresh counter = %d, want 0", got)
	}
	c.Inc(nil)
	c.Add(nil, 4)
	if got := c.Get(nil); got != 5 {
		t.Fatalf("counter = %d, want 5", got)
	}

	c.Inc(Labels{"axis": "R"})
	c.Inc(Labels{"axis": "R"})
	c.Inc(Labels{"axis": "Z"})
	if got := c.Get(Labels{"axis": "R"}); got != 2 {
		t.Fatalf("axis=R series = %d, want 2", got)
	}
	if got := c.Get(Labels{"axis": "Z"}); got != 1 {
		t.Fatalf("axis=Z series = %d, want 1", got)
	}
	if got := c.Get(Labels{"axis": "T"}); got != 0 {
		t.Fatalf("unseen series = %d, want 0", got)
	}
}

func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("rig_bus_transactions_total", "Bus transactions")

	const workers = 10
	const perWorker = 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.Inc(Labels{"driver": "tw_r"})
			}
		}()
	}
	wg.Wait()

	if got := c.Get(Labels{"driver": "tw_r"}); got != workers*perWorker {
		t.Fatalf("counter = %d, want %d", got, workers*perWorker)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("rig_queue_depth", "Queued lines")

	g.Set(nil, 7)
	if got := g.Get(nil); got != 7 {
		t.Fatalf("gauge = %g, want 7", got)
	}
	g.Inc(nil)
	g.Dec(nil)
	g.Add(nil, 2.5)
	g.Sub(nil, 0.5)
	if got := g.Get(nil); got != 9 {
		t.Fatalf("gauge = %g, want 9", got)
	}

	g.Set(Labels{"group": "z"}, -3)
	if got := g.Get(Labels{"group": "z"}); got != -3 {
		t.Fatalf("group=z series = %g, want -3", got)
	}
	if got := g.Get(nil); got != 9 {
		t.Fatalf("unlabeled series disturbed: %g, want 9", got)
	}
}

func TestGaugeConcurrency(t *testing.T) {
	g := NewGauge("rig_feed", "Feed rate")

	const workers = 8
	const perWorker = 500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				g.Inc(nil)
			}
		}()
	}
	wg.Wait()

	if got := g.Get(nil); got != workers*perWorker {
		t.Fatalf("gauge = %g, want %d", got, workers*perWorker)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("rig_command_seconds", "Command latency", []float64{0.1, 1, 10})

	for _, v := range []float64{0.05, 0.5, 5, 50} {
		h.Observe(nil, v)
	}

	snap := h.GetSnapshot(nil)
	if snap.Count != 4 {
		t.Fatalf("count = %d, want 4", snap.Count)
	}
	if math.Abs(snap.Sum-55.55) > 1e-9 {
		t.Fatalf("sum = %g, want 55.55", snap.Sum)
	}
	for _, tc := range []struct {
		bound float64
		want  uint64
	}{
		{0.1, 1},
		{1, 2},
		{10, 3},
	} {
		if got := snap.Buckets[tc.bound]; got != tc.want {
			t.Fatalf("bucket le=%g: %d, want %d", tc.bound, got, tc.want)
		}
	}

	empty := h.GetSnapshot(Labels{"word": "G28"})
	if empty.Count != 0 || len(empty.Buckets) != 0 {
		t.Fatalf("unseen series not empty: %+v", empty)
	}
}

func TestHistogramUnsortedBounds(t *testing.T) {
	h := NewHistogram("rig_settle_seconds", "Settle time", []float64{5, 0.5, 1})
	h.Observe(nil, 0.7)
	snap := h.GetSnapshot(nil)
	if got := snap.Buckets[0.5]; got != 0 {
		t.Fatalf("le=0.5 bucket = %d, want 0", got)
	}
	if got := snap.Buckets[1]; got != 1 {
		t.Fatalf("le=1 bucket = %d, want 1", got)
	}
}

func TestHistogramExposition(t *testing.T) {
	h := NewHistogram("rig_homing_seconds", "Homing duration", []float64{1, 10})
	h.Observe(Labels{"group": "r"}, 0.5)
	h.Observe(Labels{"group": "r"}, 30)

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()

	for _, want := range []string{
		"# TYPE rig_homing_seconds histogram",
		`rig_homing_seconds_bucket{group="r",le="1"} 1`,
		`rig_homing_seconds_bucket{group="r",le="10"} 1`,
		`rig_homing_seconds_bucket{group="r",le="+Inf"} 2`,
		`rig_homing_seconds_sum{group="r"} 30.5`,
		`rig_homing_seconds_count{group="r"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}

func TestBucketGenerators(t *testing.T) {
	def := DefaultBuckets()
	if len(def) == 0 {
		t.Fatal("DefaultBuckets empty")
	}
	for i := 1; i < len(def); i++ {
		if def[i] <= def[i-1] {
			t.Fatalf("DefaultBuckets not increasing at %d: %v", i, def)
		}
	}

	lin := LinearBuckets(10, 5, 4)
	for i, want := range []float64{10, 15, 20, 25} {
		if lin[i] != want {
			t.Fatalf("LinearBuckets[%d] = %g, want %g", i, lin[i], want)
		}
	}

	exp := ExponentialBuckets(1, 2, 4)
	for i, want := range []float64{1, 2, 4, 8} {
		if exp[i] != want {
			t.Fatalf("ExponentialBuckets[%d] = %g, want %g", i, exp[i], want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("rig_lines_total", "Lines accepted")
	g := NewGauge("rig_executing", "Drain active")

	if err := r.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(g); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(NewCounter("rig_lines_total", "dup")); err == nil {
		t.Fatal("duplicate registration accepted")
	}

	if got := r.Get("rig_lines_total"); got != Metric(c) {
		t.Fatalf("Get returned %v, want the registered counter", got)
	}
	if got := r.Get("nope"); got != nil {
		t.Fatalf("Get(nope) = %v, want nil", got)
	}

	c.Inc(nil)
	g.Set(nil, 1)
	out := r.Gather()
	lines := strings.Index(out, "rig_lines_total")
	executing := strings.Index(out, "rig_executing")
	if lines < 0 || executing < 0 {
		t.Fatalf("gather missing metrics:\n%s", out)
	}
	if lines > executing {
		t.Fatal("gather did not preserve registration order")
	}

	r.Unregister("rig_lines_total")
	if strings.Contains(r.Gather(), "rig_lines_total") {
		t.Fatal("unregistered metric still gathered")
	}
}

func TestRegistryMustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCounter("rig_aborts_total", "Aborts"))
	defer func() {
		if recover() == nil {
			t.Fatal("MustRegister did not panic on duplicate")
		}
	}()
	r.MustRegister(NewCounter("rig_aborts_total", "Aborts"))
}

func TestLabels(t *testing.T) {
	l := Labels{"driver": "tw_z1", "op": "write"}

	if got, want := l.Key(), "driver=tw_z1,op=write"; got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
	if got, want := l.String(), `{driver="tw_z1",op="write"}`; got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
	if got := Labels(nil).Key(); got != "" {
		t.Fatalf("nil Key = %q, want empty", got)
	}
	if got := Labels(nil).String(); got != "" {
		t.Fatalf("nil String = %q, want empty", got)
	}

	clone := l.Clone()
	clone["op"] = "read"
	if l["op"] != "write" {
		t.Fatal("Clone shares storage with the original")
	}

	merged := l.Merge(Labels{"op": "read", "bus": "i2c-1"})
	if merged["op"] != "read" || merged["bus"] != "i2c-1" || merged["driver"] != "tw_z1" {
		t.Fatalf("Merge = %v", merged)
	}
	if l["op"] != "write" {
		t.Fatal("Merge mutated the receiver")
	}
}

func TestLabelEscaping(t *testing.T) {
	l := Labels{"path": `C:\rig "bench"` + "\nline2"}
	got := l.String()
	want := `{path="C:\\rig \"bench\"\nline2"}`
	if got != want {
		t.Fatalf("escaped = %q, want %q", got, want)
	}
}

func BenchmarkCounterInc(b *testing.B) {
	c := NewCounter("bench_total", "bench")
	labels := Labels{"driver": "tw_r"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Inc(labels)
	}
}

func BenchmarkHistogramObserve(b *testing.B) {
	h := NewHistogram("bench_seconds", "bench", DefaultBuckets())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Observe(nil, 0.042)
	}
}
