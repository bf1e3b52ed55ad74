package browser

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// RodDriver drives an isolated Chromium instance over CDP. One driver owns
// one browser process, one user-data dir, and one page.
type RodDriver struct {
	headless    bool
	userDataDir string

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	stops    []func() error
	closed   bool
}

type RodOptions struct {
	Headless    bool
	UserDataDir string
}

func NewRodDriver(opts RodOptions) *RodDriver {
	return &RodDriver{
		headless:    opts.Headless,
		userDataDir: opts.UserDataDir,
	}
}

func (d *RodDriver) Launch(ctx context.Context) error {
	l := launcher.New().
		Headless(d.headless).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-infobars").
		Set("use-fake-ui-for-media-stream").
		Set("autoplay-policy", "no-user-gesture-required").
		Set("window-size", "1280,720")
	if d.userDataDir != "" {
		l = l.UserDataDir(d.userDataDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return &DriverError{Op: "launch", Err: err}
	}
	d.launcher = l

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return &DriverError{Op: "connect", Err: err}
	}
	d.browser = b

	// The stealth page carries the fingerprint-masking script injected
	// before any navigation.
	page, err := stealth.Page(b)
	if err != nil {
		return &DriverError{Op: "new_page", Err: err}
	}
	d.page = page
	log.Printf("event=browser_launched headless=%v", d.headless)
	return nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	if d.page == nil {
		return &DriverError{Op: "navigate", Err: errors.New("driver not launched")}
	}
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return &DriverError{Op: "navigate", Err: err}
	}
	if err := p.WaitLoad(); err != nil {
		return &DriverError{Op: "wait_load", Err: err}
	}
	return nil
}

// element waits for selector within timeout. A lapsed wait maps to
// ErrElementNotFound; everything else is surfaced as-is.
func (d *RodDriver) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	if d.page == nil {
		return nil, &DriverError{Op: "element", Err: errors.New("driver not launched")}
	}
	el, err := d.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrElementNotFound
		}
		return nil, err
	}
	return el, nil
}

func (d *RodDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := d.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.Timeout(timeout).WaitVisible(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrElementNotFound
		}
		return err
	}
	return nil
}

func (d *RodDriver) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := d.element(ctx, selector, timeout)
	if errors.Is(err, ErrElementNotFound) {
		// Never appeared within the bound: already hidden.
		return nil
	}
	if err != nil {
		return err
	}
	if err := el.Timeout(timeout).WaitInvisible(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrElementNotFound
		}
		return err
	}
	return nil
}

func (d *RodDriver) Click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := d.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (d *RodDriver) Type(ctx context.Context, selector, text string, timeout time.Duration) error {
	el, err := d.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	// Replace any prefilled value rather than appending to it.
	_ = el.SelectAllText()
	return el.Input(text)
}

func (d *RodDriver) Eval(ctx context.Context, js string) error {
	if d.page == nil {
		return &DriverError{Op: "eval", Err: errors.New("driver not launched")}
	}
	if _, err := d.page.Context(ctx).Eval(js); err != nil {
		return err
	}
	return nil
}

func (d *RodDriver) Expose(ctx context.Context, name string, fn func(payload string)) error {
	if d.page == nil {
		return &DriverError{Op: "expose", Err: errors.New("driver not launched")}
	}
	stop, err := d.page.Context(ctx).Expose(name, func(j gson.JSON) (interface{}, error) {
		fn(j.Str())
		return nil, nil
	})
	if err != nil {
		return &DriverError{Op: "expose", Err: err}
	}
	d.stops = append(d.stops, stop)
	return nil
}

func (d *RodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if d.page == nil {
		return nil, &DriverError{Op: "screenshot", Err: errors.New("driver not launched")}
	}
	quality := 80
	return d.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
}

// Close releases the page, the browser process, and the protocol listeners.
// Safe to call more than once and on a driver that never launched.
func (d *RodDriver) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	for _, stop := range d.stops {
		_ = stop()
	}
	d.stops = nil
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			log.Printf("event=browser_close_failed err=%q", err.Error())
		}
		d.browser = nil
		d.page = nil
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
		d.launcher = nil
	}
	return nil
}
