package bot

import (
	"context"
	"errors"
	"log"

	"github.com/telemyapp/aegis-meeting-bot/internal/browser"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
	"github.com/telemyapp/aegis-meeting-bot/internal/tracker"
)

var zoomDefaults = Selectors{
	NameInput: []string{
		`#input-for-name`,
		`input[placeholder='Your Name']`,
	},
	PreJoinMicMute: []string{
		`button[aria-label='Mute']`,
		`#preview-audio-control-button[aria-label*='unmuted']`,
	},
	PreJoinCamMute: []string{
		`button[aria-label='Stop Video']`,
		`#preview-video-control-button[aria-label*='started']`,
	},
	JoinButtons: []string{
		`button.preview-join-button`,
		`button[type='button'].zm-btn--primary`,
	},
	JoinedSignals: []string{
		`button[aria-label*='Leave']`,
		`.meeting-app .footer`,
	},
	LeaveButtons: []string{
		`button[aria-label='Leave']`,
		`button.footer__leave-btn`,
	},
	KickedSignals: []string{
		`.zm-modal-body-title`,
		`div[aria-label*='removed by the host']`,
	},
	EndedSignals: []string{
		`div[aria-label*='ended by host']`,
		`.zm-modal-body-content`,
	},
}

// The zoom web client has no per-tile speaking class; the deliberate
// activity signal here is the active-speaker frame border, reconciled into
// the same roster as the participants-list nodes.
const zoomObserverScript = `(() => {
  const seen = new Map();
  const emit = (kind, id, name) => window.aegisRosterEvent(JSON.stringify({kind, id, name}));
  const scan = () => {
    const live = new Set();
    for (const item of document.querySelectorAll('.participants-item, [data-participant-id]')) {
      const id = item.getAttribute('data-participant-id') || item.id || item.textContent.trim();
      if (!id) continue;
      live.add(id);
      if (!seen.has(id)) {
        const n = item.querySelector('.participants-item__display-name');
        seen.set(id, n ? n.textContent.trim() : id);
        emit('join', id, seen.get(id));
      }
    }
    for (const id of Array.from(seen.keys())) {
      if (!live.has(id)) { seen.delete(id); emit('leave', id, ''); }
    }
    const active = document.querySelector('.speaker-active-container__video-frame--active, [class*="active-speaker"]');
    if (active) {
      const label = active.getAttribute('aria-label') || '';
      for (const [id, name] of seen) {
        if (label.includes(name)) { emit('speaking', id, name); break; }
      }
    }
  };
  const obs = new MutationObserver(scan);
  obs.observe(document.body, {subtree: true, childList: true, attributes: true, attributeFilter: ['class', 'aria-label']});
  scan();
})();`

type zoomPlatform struct {
	sel Selectors
}

func newZoom(ov Selectors) *zoomPlatform {
	return &zoomPlatform{sel: ov.merge(zoomDefaults)}
}

func (p *zoomPlatform) Name() model.Platform { return model.PlatformZoom }

func (p *zoomPlatform) Join(ctx context.Context, d browser.Driver, cfg model.SessionConfig) error {
	if err := d.Navigate(ctx, cfg.JoinLocator()); err != nil {
		return err
	}
	typed := false
	for _, sel := range p.sel.NameInput {
		if err := d.Type(ctx, sel, cfg.DisplayName, actionWait); err == nil {
			typed = true
			break
		} else if !errors.Is(err, browser.ErrElementNotFound) {
			return err
		}
	}
	if !typed {
		// The web client always asks for a name; its absence means the
		// join page never rendered.
		return browser.ErrElementNotFound
	}
	if cfg.Passcode != "" {
		if err := d.Type(ctx, `#input-for-pwd`, cfg.Passcode, actionWait); err != nil &&
			!errors.Is(err, browser.ErrElementNotFound) {
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
	log.Printf("event=join_submitted platform=zoom")
	return awaitAny(ctx, d, p.sel.JoinedSignals)
}

func (p *zoomPlatform) Leave(ctx context.Context, d browser.Driver) error {
	clicked, err := clickFirst(ctx, d, p.sel.LeaveButtons, actionWait)
	if err != nil {
		return err
	}
	if !clicked {
		return browser.ErrElementNotFound
	}
	// The confirm dialog re-uses the leave label.
	_, _ = clickFirst(ctx, d, []string{`button.leave-meeting-options__btn`}, actionWait)
	return nil
}

func (p *zoomPlatform) DetectKicked(ctx context.Context, d browser.Driver) (bool, error) {
	return anyVisible(ctx, d, p.sel.KickedSignals, probeWait)
}

func (p *zoomPlatform) DetectMeetingEnded(ctx context.Context, d browser.Driver) (bool, error) {
	return anyVisible(ctx, d, p.sel.EndedSignals, probeWait)
}

func (p *zoomPlatform) InjectTracking(ctx context.Context, d browser.Driver, t *tracker.Tracker) error {
	return injectObservers(ctx, d, t, zoomObserverScript)
}
