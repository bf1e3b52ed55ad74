// Package capture runs the continuous audio+video encoder for a session.
// The encoder subprocess handle is owned exclusively by the pipeline; no
// other component signals it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

// Status is what Stop resolves with. Stop never returns an error so the
// cleanup path can always run its remaining steps.
type Status string

const (
	StatusFinalized     Status = "finalized"
	StatusNothingToStop Status = "nothing_to_stop"
	StatusAborted       Status = "aborted"
)

// CaptureError is a fatal recording failure: the encoder failed to start
// or crashed beyond its restart budget. The session itself may survive it.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture: %v", e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

const (
	// One in-flight restart after an unexpected encoder exit; a second
	// crash is fatal to the recording.
	restartBudget = 1
	// How long Stop waits for the encoder to flush after SIGINT before
	// escalating to a kill.
	finalizeGrace = 10 * time.Second
)

type Options struct {
	Dir         string // artifact directory
	Display     string // X11 display to grab, e.g. ":99"
	AudioSource string // pulse source, e.g. "default"
	Binary      string // encoder binary, defaults to ffmpeg
}

// Pipeline encodes the session's audio and video to one artifact file.
type Pipeline struct {
	opts Options

	// newCommand builds the encoder process; swapped in tests.
	newCommand func(outputPath string) *exec.Cmd

	mu         sync.Mutex
	cmd        *exec.Cmd
	artifact   *model.RecordingArtifact
	started    bool
	stopping   bool
	stopStatus Status
	restarts   int
	failures   chan error
	finalized  chan error
}

func New(opts Options) *Pipeline {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.Display == "" {
		opts.Display = ":99"
	}
	if opts.AudioSource == "" {
		opts.AudioSource = "default"
	}
	p := &Pipeline{
		opts:      opts,
		failures:  make(chan error, 1),
		finalized: make(chan error, 1),
	}
	p.newCommand = p.ffmpegCommand
	return p
}

func (p *Pipeline) ffmpegCommand(outputPath string) *exec.Cmd {
	cmd := exec.Command(p.opts.Binary,
		"-y",
		"-f", "x11grab",
		"-video_size", "1280x720",
		"-framerate", "25",
		"-draw_mouse", "0",
		"-i", p.opts.Display,
		"-f", "pulse",
		"-i", p.opts.AudioSource,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		outputPath,
	)
	// Encoder diagnostics go to a sidecar log, not the session log.
	if logFile, err := os.Create(outputPath + ".encoder.log"); err == nil {
		cmd.Stderr = logFile
	}
	return cmd
}

// Start launches the encoder. A second Start while running is a no-op; it
// never launches a parallel encoder.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started && !p.stopping {
		log.Printf("event=capture_start_ignored reason=already_running path=%s", p.artifact.Path)
		return nil
	}
	if p.stopping {
		return &CaptureError{Err: errors.New("pipeline already stopped")}
	}
	if p.opts.Binary == "ffmpeg" {
		if _, err := exec.LookPath(p.opts.Binary); err != nil {
			return &CaptureError{Err: fmt.Errorf("encoder binary not found: %w", err)}
		}
	}
	if err := os.MkdirAll(p.opts.Dir, 0o755); err != nil {
		return &CaptureError{Err: fmt.Errorf("creating artifact dir: %w", err)}
	}
	outputPath := filepath.Join(p.opts.Dir, ulid.Make().String()+".mp4")
	if err := p.launchLocked(outputPath); err != nil {
		return err
	}
	p.started = true
	p.artifact = &model.RecordingArtifact{
		Path:        outputPath,
		ContentType: "video/mp4",
		StartedAt:   time.Now(),
	}
	log.Printf("event=capture_started path=%s", outputPath)
	return nil
}

func (p *Pipeline) launchLocked(outputPath string) error {
	cmd := p.newCommand(outputPath)
	if err := cmd.Start(); err != nil {
		return &CaptureError{Err: fmt.Errorf("starting encoder: %w", err)}
	}
	p.cmd = cmd
	go p.watchExit(outputPath, cmd)
	return nil
}

// watchExit is the sole consumer of the encoder's exit. A deliberate stop
// is forwarded to the finalize channel; an unexpected exit restarts the
// encoder once, past the budget it reports a CaptureError and leaves the
// artifact partial.
func (p *Pipeline) watchExit(outputPath string, cmd *exec.Cmd) {
	err := cmd.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		select {
		case p.finalized <- err:
		default:
		}
		return
	}
	log.Printf("event=capture_encoder_exit unexpected=true err=%v", err)
	if p.restarts < restartBudget {
		p.restarts++
		if lerr := p.launchLocked(outputPath); lerr != nil {
			p.reportFailureLocked(lerr)
			return
		}
		log.Printf("event=capture_encoder_restarted attempt=%d path=%s", p.restarts, outputPath)
		return
	}
	p.reportFailureLocked(&CaptureError{Err: fmt.Errorf("encoder crashed beyond restart budget: %w", err)})
}

func (p *Pipeline) reportFailureLocked(err error) {
	p.cmd = nil
	select {
	case p.failures <- err:
	default:
	}
}

// Failures delivers at most one fatal recording failure.
func (p *Pipeline) Failures() <-chan error {
	return p.failures
}

// Stop requests a graceful finalize: interrupt first so the encoder can
// flush buffered frames, wait for its own exit, kill only after the grace
// elapses. Idempotent; a Stop with no prior Start resolves immediately.
func (p *Pipeline) Stop(ctx context.Context) Status {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return StatusNothingToStop
	}
	if p.stopping {
		status := p.stopStatus
		p.mu.Unlock()
		return status
	}
	p.stopping = true
	cmd := p.cmd
	p.mu.Unlock()

	status := StatusAborted
	if cmd == nil {
		// Encoder already died past its budget; the file is partial.
	} else {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			log.Printf("event=capture_interrupt_failed err=%q", err.Error())
		}
		status = p.awaitExit(ctx, cmd)
	}

	p.mu.Lock()
	p.stopStatus = status
	if p.artifact != nil && status == StatusFinalized {
		p.artifact.Sealed = true
	}
	p.cmd = nil
	p.mu.Unlock()
	log.Printf("event=capture_stopped status=%s", status)
	return status
}

func (p *Pipeline) awaitExit(ctx context.Context, cmd *exec.Cmd) Status {
	grace := time.NewTimer(finalizeGrace)
	defer grace.Stop()
	select {
	case err := <-p.finalized:
		if err == nil || isInterruptExit(err) {
			return StatusFinalized
		}
		// The encoder died of something other than our interrupt while we
		// waited; the file never got its trailer.
		log.Printf("event=capture_finalize_crash err=%q", err.Error())
		return StatusAborted
	case <-grace.C:
	case <-ctx.Done():
	}
	_ = cmd.Process.Kill()
	select {
	case <-p.finalized:
	case <-time.After(2 * time.Second):
	}
	return StatusAborted
}

// isInterruptExit reports whether the exit was the SIGINT-driven flush we
// asked for. ffmpeg traps SIGINT and exits 255 after writing the trailer;
// a process that does not trap it dies signaled instead.
func isInterruptExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal() == syscall.SIGINT
	}
	return exitErr.ExitCode() == 255
}

// Artifact returns the recording artifact, nil before the first Start.
// The artifact is immutable once sealed.
func (p *Pipeline) Artifact() *model.RecordingArtifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.artifact == nil {
		return nil
	}
	cp := *p.artifact
	return &cp
}
