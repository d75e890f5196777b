// Package run executes one check-in batch end to end: orchestrate, report,
// persist history, track balances and notify.
package run

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"
	"newapi-checkin/internal/account"
	"newapi-checkin/internal/checkin"
	"newapi-checkin/internal/notify"
	"newapi-checkin/internal/provider"
)

type Orchestrator interface {
	Run(ctx context.Context, accounts []account.Descriptor) checkin.Summary
}

type HistoryStore interface {
	Save(ctx context.Context, summary checkin.Summary) error
}

type BalanceTracker interface {
	Observe(ctx context.Context, s checkin.Summary) bool
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg notify.Message) notify.Report
}

type Outcome struct {
	Summary        checkin.Summary
	BalanceChanged bool
	Notified       bool
	Report         notify.Report
}

type Service struct {
	orchestrator Orchestrator
	history      HistoryStore
	tracker      BalanceTracker
	dispatcher   Dispatcher
	mode         config.NotifyMode
	loc          *time.Location
	log          *zap.SugaredLogger
}

type NewServiceParams struct {
	fx.In

	Cfg          *config.Config
	Orchestrator Orchestrator
	History      HistoryStore
	Tracker      BalanceTracker
	Dispatcher   Dispatcher
	Logger       *zap.SugaredLogger
}

func NewService(p NewServiceParams) *Service {
	log := p.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		orchestrator: p.Orchestrator,
		history:      p.History,
		tracker:      p.Tracker,
		dispatcher:   p.Dispatcher,
		mode:         p.Cfg.Notify.Mode,
		loc:          time.Local,
		log:          log,
	}
}

// LoadAccounts parses ACCOUNTS against the registered providers.
func LoadAccounts(cfg *config.Config, registry *provider.Registry) ([]account.Descriptor, error) {
	return account.Parse([]byte(cfg.Accounts), account.ParseOptions{
		DefaultProvider: cfg.DefaultProvider,
		Known:           registry.Has,
	})
}

// Run processes the batch and writes the per-account report to out. History,
// balance and notification failures are logged and never change the outcome.
func (s *Service) Run(ctx context.Context, accounts []account.Descriptor, out io.Writer) Outcome {
	summary := s.orchestrator.Run(ctx, accounts)
	WriteReport(out, summary)

	// The run budget may be spent; bookkeeping gets its own deadline.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	if err := s.history.Save(bctx, summary); err != nil {
		s.log.Warnw("history_save_failed", "run_id", summary.RunID, "err", err)
	}

	o := Outcome{Summary: summary}
	o.BalanceChanged = s.tracker.Observe(bctx, summary)

	if !notify.ShouldNotify(s.mode, summary, o.BalanceChanged) {
		s.log.Infow("notify_skipped", "mode", string(s.mode), "failed", summary.Failed, "balance_changed", o.BalanceChanged)
		return o
	}
	o.Notified = true
	// Channels carry their own deadlines and do not share the bookkeeping one.
	o.Report = s.dispatcher.Dispatch(context.WithoutCancel(ctx), notify.Render(summary, s.loc))
	s.log.Infow("notify_finished",
		"sent", len(o.Report.Sent),
		"skipped", len(o.Report.Skipped),
		"failed", len(o.Report.Failed),
	)
	return o
}

// WriteReport prints one status line per account followed by the statistics.
func WriteReport(out io.Writer, s checkin.Summary) {
	for _, r := range s.Results {
		fmt.Fprintln(out, notify.AccountLine(r))
		if r.Message != "" {
			fmt.Fprintf(out, "    %s\n", r.Message)
		}
		if r.Balance != nil {
			fmt.Fprintf(out, "    %s\n", r.Balance.String())
		}
	}
	fmt.Fprintf(out, "Success: %d/%d\n", s.Succeeded, s.Total)
	fmt.Fprintf(out, "Failed: %d/%d\n", s.Failed, s.Total)
	fmt.Fprintf(out, "Overall: %s (run %s, %s)\n", s.Overall(), s.RunID, s.Duration().Round(time.Millisecond))
}
