package abort

import (
	"sync"
	"testing"
	"time"

	"helical-go-migration/pkg/rigerr"
)

func TestRaiseAndClear(t *testing.T) {
	c := NewController()
	if c.Aborted() {
		t.Fatal("fresh controller reports aborted")
	}

	c.Raise("test stop")
	if !c.Aborted() {
		t.Fatal("Raise did not set the flag")
	}
	if got := c.Reason(); got != "test stop" {
		t.Errorf("Reason = %q, want %q", got, "test stop")
	}

	// First reason wins while the flag stays set.
	c.Raise("second")
	if got := c.Reason(); got != "test stop" {
		t.Errorf("Reason after second raise = %q, want %q", got, "test stop")
	}

	c.Clear()
	if c.Aborted() {
		t.Error("Clear did not reset the flag")
	}
	if got := c.Reason(); got != "" {
		t.Errorf("Reason after Clear = %q, want empty", got)
	}
}

func TestEStopLatches(t *testing.T) {
	c := NewController()
	c.RaiseEStop("m112")

	if !c.Aborted() {
		t.Error("e-stop did not raise abort")
	}
	if !c.EStopped() {
		t.Error("e-stop flag not set")
	}

	c.Clear()
	if c.Aborted() {
		t.Error("Clear did not reset abort")
	}
	if !c.EStopped() {
		t.Error("Clear must not reset the e-stop latch")
	}
}

func TestConsumeEnterEdge(t *testing.T) {
	c := NewController()
	if c.ConsumeEnter() {
		t.Fatal("fresh controller reports a pending confirm")
	}

	c.PressEnter()
	if !c.ConsumeEnter() {
		t.Fatal("confirm edge lost")
	}
	if c.ConsumeEnter() {
		t.Fatal("confirm edge not consumed on read")
	}

	// The confirm edge is independent of the abort flag.
	c.PressEnter()
	c.Raise("test")
	if !c.ConsumeEnter() {
		t.Fatal("abort cleared the confirm edge")
	}
}

func TestErr(t *testing.T) {
	c := NewController()
	if err := c.Err("dwell"); err != nil {
		t.Fatalf("Err on clear flag = %v, want nil", err)
	}

	c.Raise("test")
	err := c.Err("dwell")
	if !rigerr.IsCancelled(err) {
		t.Fatalf("Err = %v, want cancelled", err)
	}
}

func TestWaitOrAbortCompletes(t *testing.T) {
	c := NewController()
	start := time.Now()
	if !c.WaitOrAbort(30 * time.Millisecond) {
		t.Fatal("wait reported abort with flag clear")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("wait returned after %v, want at least 30ms", elapsed)
	}
}

func TestWaitOrAbortCutShort(t *testing.T) {
	c := NewController()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		c.Raise("test")
	}()

	start := time.Now()
	completed := c.WaitOrAbort(5 * time.Second)
	elapsed := time.Since(start)
	wg.Wait()

	if completed {
		t.Fatal("wait completed despite abort")
	}
	if elapsed > time.Second {
		t.Errorf("abort took %v to cut the wait short", elapsed)
	}
}

func TestWaitOrAbortZeroDuration(t *testing.T) {
	c := NewController()
	if !c.WaitOrAbort(0) {
		t.Error("zero-duration wait must complete when flag is clear")
	}
	c.Raise("test")
	if c.WaitOrAbort(0) {
		t.Error("zero-duration wait must observe a raised flag")
	}
}
