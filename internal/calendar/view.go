package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrViewInactive is returned when a refresh is requested on a view that is
// not active.
var ErrViewInactive = errors.New("calendar view is not active")

// View ties a Synchronizer to a periodic refresh for as long as the manager
// calendar is active. Deactivate cancels both the schedule and any fetch in
// flight, whose result is then discarded.
type View struct {
	sync      *Synchronizer
	scheduler *Scheduler
	interval  time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	handle *CancelHandle
}

// NewView creates an inactive view. A non-positive interval uses the
// synchronizer's TTL.
func NewView(s *Synchronizer, scheduler *Scheduler, interval time.Duration, logger zerolog.Logger) *View {
	if interval <= 0 {
		interval = s.TTL()
	}
	return &View{
		sync:      s,
		scheduler: scheduler,
		interval:  interval,
		logger:    logger.With().Str("component", "calendar_view").Logger(),
	}
}

// Activate serves the cache or fetches once, then schedules an unforced
// refresh every interval. Activating an active view is a no-op.
func (v *View) Activate(parent context.Context) (Outcome, error) {
	v.mu.Lock()
	if v.cancel != nil {
		v.mu.Unlock()
		return "", nil
	}

	ctx, cancel := context.WithCancel(parent)
	handle, err := v.scheduler.SchedulePeriodic(v.interval, func() {
		v.sync.Refresh(ctx, false)
	})
	if err != nil {
		cancel()
		v.mu.Unlock()
		return "", err
	}

	v.ctx, v.cancel, v.handle = ctx, cancel, handle
	v.mu.Unlock()

	v.logger.Info().Dur("interval", v.interval).Msg("calendar view activated")
	return v.sync.Refresh(ctx, false), nil
}

// Deactivate cancels the periodic refresh and the view context. It is safe to
// call more than once and on a view that never activated.
func (v *View) Deactivate() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cancel == nil {
		return
	}
	v.handle.Cancel()
	v.cancel()
	v.ctx, v.cancel, v.handle = nil, nil, nil
	v.logger.Info().Msg("calendar view deactivated")
}

// Active reports whether the view is active.
func (v *View) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancel != nil
}

// TriggerRefresh runs a refresh now, as the manual refresh button does.
func (v *View) TriggerRefresh(force bool) (Outcome, error) {
	v.mu.Lock()
	ctx := v.ctx
	v.mu.Unlock()

	if ctx == nil {
		return "", ErrViewInactive
	}
	return v.sync.Refresh(ctx, force), nil
}

// NextRefresh returns the next scheduled refresh, if any.
func (v *View) NextRefresh() *time.Time {
	v.mu.Lock()
	h := v.handle
	v.mu.Unlock()
	return v.scheduler.NextRun(h)
}

// Synchronizer returns the view's synchronizer.
func (v *View) Synchronizer() *Synchronizer {
	return v.sync
}
