package bot

import (
	"context"
	"log"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/browser"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
	"github.com/telemyapp/aegis-meeting-bot/internal/tracker"
)

// watcher is the termination detector: a composite poll loop whose ticks
// run the platform's removal probes concurrently and evaluate the timeout
// conditions against tracker state. Within one tick, conditions resolve in
// a fixed precedence order — kicked > meeting-ended > alone > inactivity —
// so the kicked cleanup path (no leave attempt) wins any tie.
type watcher struct {
	platform Platform
	driver   browser.Driver
	track    *tracker.Tracker
	policy   model.AutoLeavePolicy
	poll     time.Duration
	// injected reports whether the roster observers are live. An
	// uninstrumented page always looks empty, so the empty-roster alone
	// arm must not fire before the first successful injection.
	injected func() bool
}

// run blocks until a condition resolves an end reason, an unexpected probe
// error occurs (reported as fatal), or ctx is cancelled.
func (w *watcher) run(ctx context.Context) (model.EndReason, error) {
	start := time.Now()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		reason, err := w.tick(ctx, start)
		if err != nil {
			return model.EndError, err
		}
		if reason != "" {
			return reason, nil
		}
	}
}

type probeResult struct {
	ok  bool
	err error
}

func (w *watcher) tick(ctx context.Context, start time.Time) (model.EndReason, error) {
	kickedCh := make(chan probeResult, 1)
	endedCh := make(chan probeResult, 1)
	go func() {
		ok, err := w.platform.DetectKicked(ctx, w.driver)
		kickedCh <- probeResult{ok: ok, err: err}
	}()
	go func() {
		ok, err := w.platform.DetectMeetingEnded(ctx, w.driver)
		endedCh <- probeResult{ok: ok, err: err}
	}()
	kicked, ended := <-kickedCh, <-endedCh

	if ctx.Err() != nil {
		return "", nil
	}
	// Expected absence never reaches here (probes map it to false); an
	// error here is a bug or a dead page, both fatal.
	if kicked.err != nil {
		return "", &browser.DriverError{Op: "probe_kicked", Err: kicked.err}
	}
	if ended.err != nil {
		return "", &browser.DriverError{Op: "probe_meeting_ended", Err: ended.err}
	}

	if kicked.ok {
		return model.EndKicked, nil
	}
	if ended.ok {
		return model.EndLeftNormally, nil
	}

	size := w.track.Size()
	if size <= 1 && w.policy.EveryoneLeftTimeout > 0 {
		// Alone-start comes from the tracker's roster transition; a
		// meeting where nobody else ever showed up measures from monitor
		// start instead, once the observers are confirmed live.
		base, armed := w.track.AloneSince()
		if !armed && (w.injected == nil || w.injected()) {
			base, armed = start, true
		}
		if armed {
			if elapsed := time.Since(base); elapsed >= w.policy.EveryoneLeftTimeout {
				log.Printf("event=alone_timeout elapsed_ms=%d", elapsed.Milliseconds())
				return model.EndAloneTimeout, nil
			}
		}
	}
	if size > 1 && w.policy.InactivityTimeout > 0 {
		// A silent one-person meeting is the alone path's job; evaluating
		// inactivity only above roster size 1 avoids double-firing.
		last := start
		if at, ok := w.track.LastSpeechAt(); ok {
			last = at
		}
		if elapsed := time.Since(last); elapsed >= w.policy.InactivityTimeout {
			log.Printf("event=inactivity_timeout elapsed_ms=%d", elapsed.Milliseconds())
			return model.EndInactivityTimeout, nil
		}
	}
	return "", nil
}
