package bot

import (
	"context"
	"errors"
	"log"

	"github.com/telemyapp/aegis-meeting-bot/internal/browser"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
	"github.com/telemyapp/aegis-meeting-bot/internal/tracker"
)

var meetDefaults = Selectors{
	NameInput: []string{
		`input[placeholder='Your name']`,
		`input[aria-label='Your name']`,
	},
	PreJoinMicMute: []string{
		`div[aria-label*='Turn off microphone']`,
		`div[data-is-muted='false'][aria-label*='microphone']`,
	},
	PreJoinCamMute: []string{
		`div[aria-label*='Turn off camera']`,
		`div[data-is-muted='false'][aria-label*='camera']`,
	},
	JoinButtons: []string{
		`button[aria-label='Join now']`,
		`button[aria-label='Ask to join']`,
		`div[role='button'][aria-label='Join now']`,
	},
	JoinedSignals: []string{
		`button[aria-label*='Leave call']`,
		`div[data-allocation-index]`,
	},
	LeaveButtons: []string{
		`button[aria-label*='Leave call']`,
		`div[data-tooltip*='Leave call']`,
	},
	KickedSignals: []string{
		`div[aria-label*='removed from the meeting']`,
		`button[aria-label='Return to home screen']`,
	},
	EndedSignals: []string{
		`div[aria-label*='meeting has ended']`,
		`h1[jsname][data-call-ended]`,
	},
}

// Meet participant tiles carry data-participant-id; speaking is surfaced
// by class mutations on the tile's activity ring. Deliberate activity
// signal for this platform: speech-driven class mutations only.
const meetObserverScript = `(() => {
  const seen = new Map();
  const emit = (kind, id, name) => window.aegisRosterEvent(JSON.stringify({kind, id, name}));
  const nameOf = (tile) => {
    const n = tile.querySelector('[data-self-name], [data-participant-name]');
    return n ? n.textContent.trim() : '';
  };
  const scan = () => {
    const live = new Set();
    for (const tile of document.querySelectorAll('[data-participant-id]')) {
      const id = tile.getAttribute('data-participant-id');
      live.add(id);
      if (!seen.has(id)) {
        seen.set(id, nameOf(tile));
        emit('join', id, seen.get(id));
      }
      const ring = tile.querySelector('[class*="speaking"], [data-is-speaking="true"]');
      if (ring) emit('speaking', id, seen.get(id));
    }
    for (const id of Array.from(seen.keys())) {
      if (!live.has(id)) { seen.delete(id); emit('leave', id, ''); }
    }
  };
  const obs = new MutationObserver(scan);
  obs.observe(document.body, {subtree: true, childList: true, attributes: true, attributeFilter: ['class', 'data-is-speaking']});
  scan();
})();`

type meetPlatform struct {
	sel Selectors
}

func newMeet(ov Selectors) *meetPlatform {
	return &meetPlatform{sel: ov.merge(meetDefaults)}
}

func (p *meetPlatform) Name() model.Platform { return model.PlatformMeet }

func (p *meetPlatform) Join(ctx context.Context, d browser.Driver, cfg model.SessionConfig) error {
	if err := d.Navigate(ctx, cfg.JoinLocator()); err != nil {
		return err
	}
	// The name prompt only appears for anonymous joins; absence is fine.
	for _, sel := range p.sel.NameInput {
		if err := d.Type(ctx, sel, cfg.DisplayName, actionWait); err == nil {
			break
		} else if !errors.Is(err, browser.ErrElementNotFound) {
			return err
		}
	}
	if _, err := clickFirst(ctx, d, p.sel.PreJoinMicMute, actionWait); err != nil {
		return err
	}
	if _, err := clickFirst(ctx, d, p.sel.PreJoinCamMute, actionWait); err != nil {
		return err
	}
	clicked, err := clickFirst(ctx, d, p.sel.JoinButtons, actionWait)
	if err != nil {
		return err
	}
	if !clicked {
		return browser.ErrElementNotFound
	}
	log.Printf("event=join_submitted platform=meet")
	// Blocks through the waiting room until admitted or ctx lapses.
	return awaitAny(ctx, d, p.sel.JoinedSignals)
}

func (p *meetPlatform) Leave(ctx context.Context, d browser.Driver) error {
	clicked, err := clickFirst(ctx, d, p.sel.LeaveButtons, actionWait)
	if err != nil {
		return err
	}
	if !clicked {
		return browser.ErrElementNotFound
	}
	return nil
}

func (p *meetPlatform) DetectKicked(ctx context.Context, d browser.Driver) (bool, error) {
	ok, err := anyVisible(ctx, d, p.sel.KickedSignals, probeWait)
	if err != nil || ok {
		return ok, err
	}
	// Secondary removal signal: the leave control disappearing while the
	// session did not initiate a leave.
	gone := true
	for _, sel := range p.sel.LeaveButtons {
		visErr := d.WaitVisible(ctx, sel, probeWait)
		if visErr == nil {
			gone = false
			break
		}
		if !errors.Is(visErr, browser.ErrElementNotFound) {
			return false, visErr
		}
	}
	return gone, nil
}

func (p *meetPlatform) DetectMeetingEnded(ctx context.Context, d browser.Driver) (bool, error) {
	return anyVisible(ctx, d, p.sel.EndedSignals, probeWait)
}

func (p *meetPlatform) InjectTracking(ctx context.Context, d browser.Driver, t *tracker.Tracker) error {
	return injectObservers(ctx, d, t, meetObserverScript)
}
