// Package notify renders a run summary and fans it out to the configured
// notification channels. Channel failures are reported, never returned.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"newapi-checkin/config"
	"newapi-checkin/internal/checkin"
)

type Message struct {
	Title   string
	Text    string
	Summary checkin.Summary
}

type Channel interface {
	Name() string
	// Configured reports whether every secret the channel needs is present.
	Configured() bool
	Send(ctx context.Context, msg Message) error
}

type Error struct {
	Channel string
	Err     error
}

func (e *Error) Error() string { return fmt.Sprintf("notify %s: %v", e.Channel, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

type Report struct {
	Sent    []string
	Skipped []string
	Failed  []*Error
}

type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func NewDispatcher(log *zap.SugaredLogger, timeout time.Duration, channels ...Channel) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{channels: channels, timeout: timeout, log: log}
}

// Dispatch sends msg on every configured channel at once. Each send gets its
// own deadline; the report lists channels in registration order.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Report {
	errs := make([]error, len(d.channels))
	var g errgroup.Group
	for i, ch := range d.channels {
		if !ch.Configured() {
			continue
		}
		g.Go(func() error {
			errs[i] = d.send(ctx, ch, msg)
			return nil
		})
	}
	_ = g.Wait()

	var rep Report
	for i, ch := range d.channels {
		switch {
		case !ch.Configured():
			d.log.Debugw("notify_channel_skipped", "channel", ch.Name())
			rep.Skipped = append(rep.Skipped, ch.Name())
		case errs[i] != nil:
			d.log.Warnw("notify_channel_failed", "channel", ch.Name(), "err", errs[i])
			rep.Failed = append(rep.Failed, &Error{Channel: ch.Name(), Err: errs[i]})
		default:
			d.log.Infow("notify_channel_sent", "channel", ch.Name())
			rep.Sent = append(rep.Sent, ch.Name())
		}
	}
	return rep
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, msg Message) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ch.Send(ctx, msg)
}

// ShouldNotify applies NOTIFY_MODE. In changes mode a run is worth a message
// when an account failed or the balances moved.
func ShouldNotify(mode config.NotifyMode, s checkin.Summary, balanceChanged bool) bool {
	switch mode {
	case config.NotifyAlways:
		return true
	case config.NotifyNever:
		return false
	default:
		return s.Failed > 0 || balanceChanged
	}
}
