package chrome

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// NewInstance creates a new browser instance with the given configuration.
func NewInstance(id int, config *Config, logger *zap.Logger) (*Instance, error) {
	now := time.Now().UTC()
	instance := &Instance{
		ID:           id,
		createdAt:    now,
		logger:       logger,
		status:       int32(StatusIdle),
		capturesDone: 0,
		lastUsedNano: now.UnixNano(),
	}

	if err := instance.createBrowser(config); err != nil {
		return nil, fmt.Errorf("failed to create browser instance %d: %w", id, err)
	}

	instance.logger.Info("browser instance created",
		zap.Int("instance_id", id),
		zap.Time("created_at", instance.createdAt))

	if err := instance.Warmup(config); err != nil {
		instance.logger.Warn("browser instance warmup failed",
			zap.Int("instance_id", id),
			zap.Error(err))
		// Don't fail on warmup error, just log it.
	}

	return instance, nil
}

// createBrowser initializes the browser process.
func (ci *Instance) createBrowser(config *Config) error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("enable-automation", false),
	}

	if config.DisableHTTP2 {
		opts = append(opts, chromedp.Flag("disable-http2", true))
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	ci.allocatorCtx, ci.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)

	ci.ctx, ci.cancel = chromedp.NewContext(ci.allocatorCtx)

	if err := chromedp.Run(ci.ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	if err := chromedp.Run(ci.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		ci.browserVersion = product
		return nil
	})); err != nil {
		ci.logger.Warn("failed to capture browser version",
			zap.Int("instance_id", ci.ID),
			zap.Error(err))
	}

	return nil
}

// Warmup navigates to a blank page to ensure the browser process is ready.
func (ci *Instance) Warmup(config *Config) error {
	ctx, cancel := context.WithTimeout(ci.ctx, config.WarmupTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(config.WarmupURL)); err != nil {
		return fmt.Errorf("warmup navigation failed: %w", err)
	}

	ci.logger.Info("browser instance warmed up",
		zap.Int("instance_id", ci.ID),
		zap.String("warmup_url", config.WarmupURL))

	return nil
}

// IsAlive checks if the browser instance is still responsive.
func (ci *Instance) IsAlive() bool {
	if Status(atomic.LoadInt32(&ci.status)) == StatusDead {
		return false
	}

	ctx, cancel := context.WithTimeout(ci.ctx, 5*time.Second)
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))

	return err == nil
}

// Age returns how long the instance has been running.
func (ci *Instance) Age() time.Duration {
	return time.Now().UTC().Sub(ci.createdAt)
}

// ShouldRestart determines if the instance needs to be restarted based on policies.
func (ci *Instance) ShouldRestart(config *Config) bool {
	if int(atomic.LoadInt32(&ci.capturesDone)) >= config.RestartAfterCount {
		return true
	}
	if ci.Age() >= config.RestartAfterTime {
		return true
	}
	return false
}

// Restart terminates and recreates the browser instance.
func (ci *Instance) Restart(config *Config) error {
	ci.logger.Info("restarting browser instance",
		zap.String("job_id", ci.currentJobID),
		zap.Int("instance_id", ci.ID),
		zap.Int32("captures_done", ci.GetCapturesDone()),
		zap.Duration("age", ci.Age()))

	if err := ci.Terminate(); err != nil {
		ci.logger.Warn("error terminating instance during restart",
			zap.String("job_id", ci.currentJobID),
			zap.Int("instance_id", ci.ID),
			zap.Error(err))
	}

	now := time.Now().UTC()
	atomic.StoreInt32(&ci.capturesDone, 0)
	ci.createdAt = now
	atomic.StoreInt64(&ci.lastUsedNano, now.UnixNano())
	atomic.StoreInt32(&ci.status, int32(StatusIdle))

	if err := ci.createBrowser(config); err != nil {
		atomic.StoreInt32(&ci.status, int32(StatusDead))
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}

	if err := ci.Warmup(config); err != nil {
		ci.logger.Warn("warmup failed after restart",
			zap.String("job_id", ci.currentJobID),
			zap.Int("instance_id", ci.ID),
			zap.Error(err))
	}

	ci.logger.Info("browser instance restarted successfully",
		zap.String("job_id", ci.currentJobID),
		zap.Int("instance_id", ci.ID))
	return nil
}

// Terminate cleanly shuts down the browser instance.
func (ci *Instance) Terminate() error {
	atomic.StoreInt32(&ci.status, int32(StatusDead))

	if ci.cancel != nil {
		ci.cancel()
	}
	if ci.allocatorCancel != nil {
		ci.allocatorCancel()
	}

	return nil
}

// IncrementCaptures increments the capture counter.
func (ci *Instance) IncrementCaptures() {
	atomic.AddInt32(&ci.capturesDone, 1)
	atomic.StoreInt64(&ci.lastUsedNano, time.Now().UTC().UnixNano())
}

// NewTabContext returns a new tab context for one capture.
func (ci *Instance) NewTabContext() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(ci.ctx)
}

// GetStatus returns the current status.
func (ci *Instance) GetStatus() Status {
	return Status(atomic.LoadInt32(&ci.status))
}

// SetStatus updates the instance status.
func (ci *Instance) SetStatus(status Status) {
	atomic.StoreInt32(&ci.status, int32(status))
}

// GetCapturesDone returns the number of completed captures.
func (ci *Instance) GetCapturesDone() int32 {
	return atomic.LoadInt32(&ci.capturesDone)
}

// GetLastUsed returns the last used time.
func (ci *Instance) GetLastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&ci.lastUsedNano))
}

// GetBrowserVersion returns the browser version string (e.g. "Chrome/120.0.6099.109").
func (ci *Instance) GetBrowserVersion() string {
	return ci.browserVersion
}
