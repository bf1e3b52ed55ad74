package capture

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

// testPipeline swaps the encoder for a stand-in process so tests exercise
// the real lifecycle without ffmpeg.
func testPipeline(t *testing.T, args ...string) *Pipeline {
	t.Helper()
	p := New(Options{Dir: t.TempDir(), Binary: "sleep"})
	p.newCommand = func(string) *exec.Cmd {
		return exec.Command(args[0], args[1:]...)
	}
	return p
}

func TestStopWithoutStart(t *testing.T) {
	p := New(Options{Dir: t.TempDir(), Binary: "sleep"})
	if got := p.Stop(context.Background()); got != StatusNothingToStop {
		t.Fatalf("got %v, want %v", got, StatusNothingToStop)
	}
}

func TestArtifactNilBeforeStart(t *testing.T) {
	p := New(Options{Dir: t.TempDir(), Binary: "sleep"})
	if got := p.Artifact(); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestStartStopFinalizes(t *testing.T) {
	p := testPipeline(t, "sleep", "60")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	art := p.Artifact()
	if art == nil || art.Path == "" {
		t.Fatalf("artifact not recorded after start: %+v", art)
	}
	if art.Sealed {
		t.Fatalf("artifact sealed before stop")
	}

	if got := p.Stop(context.Background()); got != StatusFinalized {
		t.Fatalf("got %v, want %v", got, StatusFinalized)
	}
	if art = p.Artifact(); !art.Sealed {
		t.Fatalf("artifact not sealed after finalize")
	}
}

func TestStartIdempotentWhileRunning(t *testing.T) {
	p := testPipeline(t, "sleep", "60")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := p.Artifact().Path

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := p.Artifact().Path; got != first {
		t.Fatalf("second start changed artifact: %s -> %s", first, got)
	}
	p.Stop(context.Background())
}

func TestStopIdempotent(t *testing.T) {
	p := testPipeline(t, "sleep", "60")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := p.Stop(context.Background())
	second := p.Stop(context.Background())
	if first != second {
		t.Fatalf("stop statuses differ: %v vs %v", first, second)
	}
}

func TestStartAfterStopFails(t *testing.T) {
	p := testPipeline(t, "sleep", "60")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop(context.Background())

	err := p.Start(context.Background())
	if err == nil {
		t.Fatalf("start after stop succeeded, want error")
	}
	if _, ok := err.(*CaptureError); !ok {
		t.Fatalf("got %T, want *CaptureError", err)
	}
}

func TestStopDetectsCrashDuringFinalize(t *testing.T) {
	// The stand-in ignores the interrupt and dies on its own with a
	// failure code, like an encoder crashing mid-flush.
	p := testPipeline(t, "sh", "-c", "trap '' INT; sleep 0.1; exit 1")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.Stop(context.Background()); got != StatusAborted {
		t.Fatalf("got %v, want %v", got, StatusAborted)
	}
	if art := p.Artifact(); art.Sealed {
		t.Fatalf("partial artifact sealed")
	}
}

func TestStopAcceptsEncoderInterruptConvention(t *testing.T) {
	// ffmpeg traps SIGINT and exits 255 after writing the trailer; that
	// exit code still counts as a finalize.
	p := testPipeline(t, "sh", "-c", "trap 'exit 255' INT; while true; do sleep 0.01; done")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.Stop(context.Background()); got != StatusFinalized {
		t.Fatalf("got %v, want %v", got, StatusFinalized)
	}
	if art := p.Artifact(); !art.Sealed {
		t.Fatalf("artifact not sealed after finalize")
	}
}

func TestCrashBeyondBudgetReportsFailure(t *testing.T) {
	// The stand-in exits immediately, so the pipeline restarts once and
	// then reports a fatal recording failure.
	p := testPipeline(t, "true")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case err := <-p.Failures():
		if _, ok := err.(*CaptureError); !ok {
			t.Fatalf("got %T, want *CaptureError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no failure reported")
	}

	// The encoder is already gone; stop resolves without a finalize.
	if got := p.Stop(context.Background()); got != StatusAborted {
		t.Fatalf("got %v, want %v", got, StatusAborted)
	}
	if art := p.Artifact(); art.Sealed {
		t.Fatalf("partial artifact sealed")
	}
}
