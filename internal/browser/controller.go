// Package browser drives the statistics site in a Chrome session and returns
// the page once the files table has been rendered.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cbstrade/internal/config"
	apperrors "cbstrade/internal/errors"

	"github.com/chromedp/chromedp"
)

// Angular models of the selection controls. "curerntSubject" is the site's
// own spelling.
const (
	SubjectModel   = "curerntSubject"
	FirstYearModel = "firstYear"
	LastYearModel  = "lastYear"
)

// TableSelector is the rendered files table.
const TableSelector = "table.zebraTable"

// Controller owns one browser process for its whole lifetime. It must be
// released with Close.
type Controller struct {
	cfg    config.BrowserConfig
	logger *slog.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
	closed        bool
}

// NewController prepares a browser session. Chrome itself is started on the
// first RenderTable call.
func NewController(cfg config.BrowserConfig, logger *slog.Logger, extraOpts ...chromedp.ExecAllocatorOption) *Controller {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", cfg.Headless))
	opts = append(opts, extraOpts...)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Controller{
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "browser")),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	err := chromedp.Cancel(c.browserCtx)
	c.browserCancel()
	c.allocCancel()
	if err != nil && !errors.Is(err, chromedp.ErrInvalidContext) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	c.logger.Info("Browser session closed")
	return nil
}

// RenderTable opens siteURL, selects subjectOption and the full year range,
// and returns the page markup once the files table is stable.
// A missing control is a structural error.
func (c *Controller) RenderTable(ctx context.Context, siteURL, subjectOption string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", apperrors.NewAppError(apperrors.ErrTypeStructural, "browser session already closed", nil)
	}

	if err := c.start(ctx); err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	logger := c.logger.With(slog.String("subject", subjectOption))
	start := time.Now()

	logger.InfoContext(ctx, "Navigating", slog.String("url", siteURL))
	if err := chromedp.Run(tabCtx, chromedp.Navigate(siteURL)); err != nil {
		return "", c.runError(ctx, "navigate", err)
	}

	if err := c.waitForControls(ctx, tabCtx); err != nil {
		return "", err
	}

	for _, step := range SelectionSteps(subjectOption) {
		if err := c.applyStep(ctx, tabCtx, step); err != nil {
			return "", err
		}
		logger.DebugContext(ctx, "Selection applied", slog.String("step", step.String()))
	}

	rows, err := c.waitForTable(ctx, tabCtx)
	if err != nil {
		return "", err
	}

	var html string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		return "", c.runError(ctx, "read page", err)
	}

	logger.InfoContext(ctx, "Files table rendered",
		slog.Int("rows", rows),
		slog.Int("html_bytes", len(html)),
		slog.Duration("duration", time.Since(start)))
	return html, nil
}

// start launches Chrome on the first call. Every render then opens its own
// tab in that browser. Callers hold c.mu.
func (c *Controller) start(ctx context.Context) error {
	if c.started {
		return nil
	}
	if err := chromedp.Run(c.browserCtx); err != nil {
		return c.runError(ctx, "start", err)
	}
	c.started = true
	c.logger.InfoContext(ctx, "Browser session started")
	return nil
}

func (c *Controller) waitForControls(ctx, tabCtx context.Context) error {
	var missing []string
	err := c.poll(ctx, tabCtx, c.cfg.ControlTimeout, func() (bool, error) {
		missing = nil
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(missingControlsScript(), &missing)); err != nil {
			return false, err
		}
		return len(missing) == 0, nil
	})
	if apperrors.IsType(err, apperrors.ErrTypeTimeout) {
		return apperrors.NewStructuralError("selection controls not found on page", err).
			WithContext("missing", strings.Join(missing, ","))
	}
	return err
}

func (c *Controller) applyStep(ctx, tabCtx context.Context, step SelectStep) error {
	// Year lists are filled by the page after the subject changes.
	if step.Mode == SelectByIndex {
		err := c.poll(ctx, tabCtx, c.cfg.ControlTimeout, func() (bool, error) {
			var n int
			if err := chromedp.Run(tabCtx, chromedp.Evaluate(optionCountScript(step.Model), &n)); err != nil {
				return false, err
			}
			return n >= 2, nil
		})
		if apperrors.IsType(err, apperrors.ErrTypeTimeout) {
			return apperrors.NewStructuralError("selection control has no options", err).
				WithContext("control", step.Model)
		}
		if err != nil {
			return err
		}
	}

	var result string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(step.Script(), &result)); err != nil {
		return c.runError(ctx, "select "+step.Model, err)
	}
	if result != "" {
		return apperrors.NewStructuralError("selection failed", nil).
			WithContext("step", step.String()).
			WithContext("reason", result)
	}
	return nil
}

// waitForTable waits until the table has data rows and the row count is the
// same on two consecutive polls.
func (c *Controller) waitForTable(ctx, tabCtx context.Context) (int, error) {
	last := -1
	var rows int
	err := c.poll(ctx, tabCtx, c.cfg.TableTimeout, func() (bool, error) {
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(tableRowCountScript(), &rows)); err != nil {
			return false, err
		}
		stable := rows > 1 && rows == last
		last = rows
		return stable, nil
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// poll calls check every PollInterval until it reports done, returns an
// error, or timeout elapses.
func (c *Controller) poll(ctx, tabCtx context.Context, timeout time.Duration, check func() (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil {
			return c.runError(ctx, "poll", err)
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tabCtx.Done():
			return c.runError(ctx, "poll", tabCtx.Err())
		case <-deadline.C:
			return apperrors.NewTimeoutError(fmt.Sprintf("condition not met within %s", timeout), nil)
		case <-ticker.C:
		}
	}
}

// runError prefers the caller's cancellation over the chromedp error it caused.
func (c *Controller) runError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return apperrors.NewNetworkError("browser "+op+" failed", err)
}
