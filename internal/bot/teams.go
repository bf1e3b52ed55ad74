package bot

import (
	"context"
	"errors"
	"log"

	"github.com/telemyapp/aegis-meeting-bot/internal/browser"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
	"github.com/telemyapp/aegis-meeting-bot/internal/tracker"
)

var teamsDefaults = Selectors{
	NameInput: []string{
		`input[data-tid='prejoin-display-name-input']`,
		`input[placeholder='Type your name']`,
	},
	PreJoinMicMute: []string{
		`div[data-tid='toggle-mute'][aria-checked='true']`,
		`toggle-button[data-tid='toggle-mute']`,
	},
	PreJoinCamMute: []string{
		`div[data-tid='toggle-video'][aria-checked='true']`,
		`toggle-button[data-tid='toggle-video']`,
	},
	JoinButtons: []string{
		`button[data-tid='prejoin-join-button']`,
		`button[aria-label='Join now']`,
	},
	JoinedSignals: []string{
		`button[data-tid='call-hangup']`,
		`div[data-tid='call-canvas']`,
	},
	LeaveButtons: []string{
		`button[data-tid='call-hangup']`,
		`button[aria-label*='Leave']`,
	},
	KickedSignals: []string{
		`div[data-tid='call-end-reason-removed']`,
		`div[aria-label*="You've been removed"]`,
	},
	EndedSignals: []string{
		`div[data-tid='call-end-reason-ended']`,
		`div[aria-label*='Meeting ended']`,
	},
}

// Teams renders both per-tile participant nodes and a merged audio-group
// node for audio-only attendees; both feed the same roster, keyed by the
// stable data-tid participant id. Activity signal: speech-driven class
// mutations (the "is speaking" ring), matching meet.
const teamsObserverScript = `(() => {
  const seen = new Map();
  const emit = (kind, id, name) => window.aegisRosterEvent(JSON.stringify({kind, id, name}));
  const collect = () => {
    const out = new Map();
    for (const tile of document.querySelectorAll('[data-tid^="participant-tile-"]')) {
      const id = tile.getAttribute('data-tid').slice('participant-tile-'.length);
      out.set(id, {name: tile.getAttribute('aria-label') || id, el: tile});
    }
    for (const row of document.querySelectorAll('[data-tid="audio-group-participant"]')) {
      const id = row.getAttribute('data-participant-id') || row.textContent.trim();
      if (id && !out.has(id)) out.set(id, {name: row.textContent.trim(), el: row});
    }
    return out;
  };
  const scan = () => {
    const live = collect();
    for (const [id, info] of live) {
      if (!seen.has(id)) { seen.set(id, info.name); emit('join', id, info.name); }
      if (info.el.querySelector('[class*="speaking"], [data-is-speaking="true"]')) {
        emit('speaking', id, seen.get(id));
      }
    }
    for (const id of Array.from(seen.keys())) {
      if (!live.has(id)) { seen.delete(id); emit('leave', id, ''); }
    }
  };
  const obs = new MutationObserver(scan);
  obs.observe(document.body, {subtree: true, childList: true, attributes: true, attributeFilter: ['class', 'data-is-speaking']});
  scan();
})();`

type teamsPlatform struct {
	sel Selectors
}

func newTeams(ov Selectors) *teamsPlatform {
	return &teamsPlatform{sel: ov.merge(teamsDefaults)}
}

func (p *teamsPlatform) Name() model.Platform { return model.PlatformTeams }

func (p *teamsPlatform) Join(ctx context.Context, d browser.Driver, cfg model.SessionConfig) error {
	if err := d.Navigate(ctx, cfg.JoinLocator()); err != nil {
		return err
	}
	// Teams first offers the app launcher; push through to the web client.
	_, _ = clickFirst(ctx, d, []string{
		`button[data-tid='joinOnWeb']`,
		`a[aria-label='Join meeting from this browser']`,
	}, actionWait)

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
	log.Printf("event=join_submitted platform=teams")
	return awaitAny(ctx, d, p.sel.JoinedSignals)
}

func (p *teamsPlatform) Leave(ctx context.Context, d browser.Driver) error {
	clicked, err := clickFirst(ctx, d, p.sel.LeaveButtons, actionWait)
	if err != nil {
		return err
	}
	if !clicked {
		return browser.ErrElementNotFound
	}
	return nil
}

func (p *teamsPlatform) DetectKicked(ctx context.Context, d browser.Driver) (bool, error) {
	return anyVisible(ctx, d, p.sel.KickedSignals, probeWait)
}

func (p *teamsPlatform) DetectMeetingEnded(ctx context.Context, d browser.Driver) (bool, error) {
	return anyVisible(ctx, d, p.sel.EndedSignals, probeWait)
}

func (p *teamsPlatform) InjectTracking(ctx context.Context, d browser.Driver, t *tracker.Tracker) error {
	return injectObservers(ctx, d, t, teamsObserverScript)
}
