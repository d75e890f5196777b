// Package checkin runs the daily check-in for a batch of accounts and reduces
// the per-account results into a run summary.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"newapi-checkin/internal/account"
	"newapi-checkin/internal/auth"
	"newapi-checkin/internal/provider"
	"newapi-checkin/internal/session"
)

// Resolver turns a descriptor into a session for a provider. *auth.Chain
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, d account.Descriptor, cfg provider.Config) (*session.Session, error)
}

// Providers looks up adapters by identifier. *provider.Registry implements it.
type Providers interface {
	Get(name string) (provider.Adapter, bool)
}

type Options struct {
	// Concurrency bounds how many accounts run at once. Values below 1 mean
	// sequential processing.
	Concurrency int
	// RunTimeout is the wall-clock budget of the whole run; zero disables it.
	RunTimeout time.Duration
	// RetryAttempts is how many extra check-in attempts a rate-limited
	// account gets.
	RetryAttempts int
	RetryBackoff  time.Duration
	// Grace is how long in-flight accounts get to wind down once the budget
	// is spent before they are reported as timed out.
	Grace  time.Duration
	Logger *zap.SugaredLogger
	Now    func() time.Time
}

type Orchestrator struct {
	resolver  Resolver
	providers Providers
	opts      Options
	log       *zap.SugaredLogger
}

func New(resolver Resolver, providers Providers, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{resolver: resolver, providers: providers, opts: opts, log: log}
}

// Run processes every account and always returns a summary holding one
// result per account, in input order.
func (o *Orchestrator) Run(ctx context.Context, accounts []account.Descriptor) Summary {
	runID := uuid.NewString()
	started := o.opts.Now()
	log := o.log.With("run_id", runID)

	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	log.Infow("checkin_run_started", "accounts", len(accounts), "concurrency", o.opts.Concurrency, "timeout", o.opts.RunTimeout)

	var (
		mu       sync.Mutex
		results  = make([]Result, len(accounts))
		finished = make([]bool, len(accounts))
		sealed   bool
	)
	record := func(i int, r Result) {
		mu.Lock()
		defer mu.Unlock()
		if sealed {
			return
		}
		results[i] = r
		finished[i] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(o.opts.Concurrency)
		for i, d := range accounts {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				record(i, o.runAccount(ctx, log, d))
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(o.opts.Grace):
			log.Warnw("checkin_run_abandoned_in_flight", "grace", o.opts.Grace)
		}
	}

	mu.Lock()
	sealed = true
	for i, d := range accounts {
		if !finished[i] {
			results[i] = Result{
				AccountName: d.Name,
				Provider:    d.Provider,
				Status:      StateFailed,
				Kind:        KindTimeout,
				Message:     "run time budget exhausted before the account finished",
				Timestamp:   o.opts.Now(),
			}
			log.Warnw("checkin_account_timed_out", "account", d.Name, "provider", d.Provider)
		}
	}
	out := make([]Result, len(results))
	copy(out, results)
	mu.Unlock()

	summary := Aggregate(runID, started, out)
	log.Infow("checkin_run_finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"overall", summary.Overall(),
		"duration", summary.Duration(),
	)
	return summary
}

// runAccount drives one account through its state machine. Nothing it does
// can escape as a panic or error; every outcome becomes a Result.
func (o *Orchestrator) runAccount(ctx context.Context, log *zap.SugaredLogger, d account.Descriptor) (res Result) {
	log = log.With("account", d.Name, "provider", d.Provider)
	res = Result{AccountName: d.Name, Provider: d.Provider}

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("checkin_account_panic", "panic", r, "stack", string(debug.Stack()))
			res.Status = StateFailed
			res.Kind = KindInternal
			res.Message = fmt.Sprintf("internal error: %v", r)
		}
		res.Timestamp = o.opts.Now()
		if res.Succeeded() {
			log.Infow("checkin_account_succeeded", "method", res.Method, "already_checked_in", res.AlreadyCheckedIn, "message", res.Message)
		} else {
			log.Warnw("checkin_account_failed", "method", res.Method, "kind", res.Kind, "message", res.Message)
		}
	}()

	log.Debugw("checkin_account_state", "state", StatePending)
	adapter, ok := o.providers.Get(d.Provider)
	if !ok {
		return fail(res, KindUnexpected, fmt.Sprintf("provider %q is not registered", d.Provider))
	}

	log.Debugw("checkin_account_state", "state", StateAuthenticating, "methods", d.Methods())
	s, err := o.resolver.Resolve(ctx, d, adapter.Config())
	if err != nil {
		return fail(res, kindOf(ctx, err), err.Error())
	}
	res.Method = s.Method

	log.Debugw("checkin_account_state", "state", StateCheckingIn, "method", s.Method)
	outcome, err := o.checkIn(ctx, log, adapter, s)
	if err != nil {
		return fail(res, kindOf(ctx, err), err.Error())
	}

	res.Status = StateSucceeded
	res.AlreadyCheckedIn = outcome.AlreadyCheckedIn
	res.QuotaAwarded = outcome.QuotaAwarded
	res.Balance = outcome.Balance
	res.Message = outcome.Message
	if res.Message == "" {
		res.Message = "Check-in successful"
		if outcome.AlreadyCheckedIn {
			res.Message = "Already checked in today"
		}
	}
	return res
}

// checkIn calls the adapter, retrying rate-limited attempts with exponential
// backoff. Each attempt gets its own copy of the session.
func (o *Orchestrator) checkIn(ctx context.Context, log *zap.SugaredLogger, a provider.Adapter, s *session.Session) (provider.Outcome, error) {
	backoff := o.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		out, err := a.CheckIn(ctx, s.Clone())
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, provider.ErrRateLimited) || attempt >= o.opts.RetryAttempts {
			return provider.Outcome{}, err
		}

		log.Infow("checkin_retry_scheduled", "attempt", attempt+1, "backoff", backoff, "err", err)
		select {
		case <-ctx.Done():
			return provider.Outcome{}, err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func fail(r Result, kind Kind, msg string) Result {
	r.Status = StateFailed
	r.Kind = kind
	r.Message = msg
	return r
}

// kindOf maps an authentication or provider error onto a result kind. When
// the run context is already done the failure counts as a timeout.
func kindOf(ctx context.Context, err error) Kind {
	var exhausted *auth.ExhaustedError
	if errors.As(err, &exhausted) && len(exhausted.Attempts) > 0 {
		err = exhausted.Attempts[len(exhausted.Attempts)-1]
	}

	var aerr *auth.Error
	if errors.As(err, &aerr) {
		return Kind(aerr.Kind)
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return Kind(perr.Kind)
	}
	return KindUnexpected
}
