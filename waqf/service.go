/*
service.go - Persistence, locking and retries around the pure engine

PURPOSE:
  Engine operations are pure. Service loads the aggregate, runs the
  operation, and saves the result with an optimistic version check. Stale
  writes are retried with exponential backoff; every other error goes
  straight back to the caller.

FLOW (every mutating call):
  lock(endowment)            optional, cross-process
    └─ retry on ConcurrentModification:
         Get → engine op at now → Save(expectedVersion, entries)
  unlock

  LedgerInconsistency is never retried and is logged at error level for
  operators.

SEE ALSO:
  - engine.go: The operations
  - repository.go: Collaborator interfaces
  - api/handlers.go: HTTP surface
*/
package waqf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/waqf-engine/generic"
)

// Service is the entry point used by the HTTP API and the sweeper.
type Service struct {
	engine  *Engine
	repo    Repository
	catalog CauseCatalog
	locker  Locker
	clock   func() generic.TimePoint
	log     *logrus.Entry

	maxRetries      uint64
	initialInterval time.Duration
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithClock(clock func() generic.TimePoint) Option { return func(s *Service) { s.clock = clock } }

func WithEngine(en *Engine) Option { return func(s *Service) { s.engine = en } }

func WithLogger(log *logrus.Entry) Option { return func(s *Service) { s.log = log } }

// WithRetry sets how often a stale write is retried and the first wait.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		s.initialInterval = initial
	}
}

func NewService(repo Repository, catalog CauseCatalog, opts ...Option) *Service {
	s := &Service{
		engine:          NewEngine(),
		repo:            repo,
		catalog:         catalog,
		clock:           generic.Now,
		log:             logrus.WithField("component", "waqf"),
		maxRetries:      5,
		initialInterval: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the pure engine the service runs.
func (s *Service) Engine() *Engine { return s.engine }

// Now is the service clock.
func (s *Service) Now() generic.TimePoint { return s.clock() }

// =============================================================================
// READ OPERATIONS
// =============================================================================

func (s *Service) Get(ctx context.Context, id EndowmentID) (Endowment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Endowment, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) Transactions(ctx context.Context, id EndowmentID) ([]generic.Transaction, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Transactions(ctx, id)
}

func (s *Service) Causes(ctx context.Context) ([]Cause, error) {
	if s.catalog == nil {
		return nil, nil
	}
	return s.catalog.ListCauses(ctx)
}

// SplitReport is the allocation split plus its scores.
type SplitReport struct {
	AllocationSplit
	Diversification int `json:"diversification_score"`
	TypeMix         int `json:"type_mix_score"`
}

// AllocationSplit computes the split and scores it. Causes missing from the
// catalog are scored under their own id as category.
func (s *Service) AllocationSplit(ctx context.Context, id EndowmentID) (SplitReport, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return SplitReport{}, err
	}
	split, err := s.engine.ComputeAllocationSplit(e)
	if err != nil {
		return SplitReport{}, err
	}

	items := make([]CategoryAmount, 0, len(split.Causes))
	for _, share := range split.Causes {
		category := string(share.CauseID)
		if s.catalog != nil {
			if cause, err := s.catalog.GetCause(ctx, share.CauseID); err == nil && cause.Category != "" {
				category = cause.Category
			}
		}
		items = append(items, CategoryAmount{CauseID: share.CauseID, CategoryID: category, Amount: share.Amount})
	}
	return SplitReport{
		AllocationSplit: split,
		Diversification: DiversificationScore(items),
		TypeMix:         TypeMixScore(PercentagesOf(split.Totals)),
	}, nil
}

// Classify classifies tranches at at, or now when at is zero.
func (s *Service) Classify(ctx context.Context, id EndowmentID, at generic.TimePoint) (Classification, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return Classification{}, err
	}
	if at.IsZero() {
		at = s.clock()
	}
	return s.engine.ClassifyTranches(e, at), nil
}

// CheckContribution asks the acceptor without booking anything.
func (s *Service) CheckContribution(ctx context.Context, id EndowmentID, amount decimal.Decimal) (Decision, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	return s.engine.CanAcceptContribution(e, amount, s.clock())
}

// Completion reports consumable progress and the recommended monthly payout.
func (s *Service) Completion(ctx context.Context, id EndowmentID) (Completion, decimal.Decimal, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return Completion{}, decimal.Zero, err
	}
	if e.Consumable == nil {
		return Completion{}, decimal.Zero, fmt.Errorf("%w: %s has no consumable schedule", generic.ErrUnsupportedType, id)
	}
	now := s.clock()
	monthly, _ := RecommendedMonthlyDistribution(e, decimal.Zero, now)
	return CompletionStatus(e, now), monthly, nil
}

// =============================================================================
// MUTATING OPERATIONS
// =============================================================================

// CreateEndowment checks the causes against the catalog, then creates and
// stores the funded endowment.
func (s *Service) CreateEndowment(ctx context.Context, p NewEndowmentParams) (Endowment, error) {
	if s.catalog != nil {
		for _, id := range p.Causes {
			cause, err := s.catalog.GetCause(ctx, id)
			if err != nil {
				return Endowment{}, err
			}
			if !cause.Active {
				return Endowment{}, fmt.Errorf("%w: cause %s is not active", generic.ErrInvalidInput, id)
			}
			if !cause.Supports(p.Type) {
				return Endowment{}, fmt.Errorf("%w: cause %s does not accept %s endowments",
					generic.ErrUnsupportedType, id, p.Type)
			}
		}
	}

	out, err := s.engine.CreateEndowment(p, s.clock())
	if err != nil {
		return Endowment{}, err
	}
	created, err := s.repo.Create(ctx, out.Endowment, out.Entries)
	if err != nil {
		return Endowment{}, err
	}
	s.log.WithFields(logrus.Fields{
		"endowment_id": created.ID,
		"type":         created.Type,
		"principal":    created.Principal.StringFixed(2),
	}).Info("endowment created")
	return created, nil
}

// Contribute books a confirmed payment.
func (s *Service) Contribute(ctx context.Context, id EndowmentID, pc PaymentConfirmation,
	routing map[CauseID]decimal.Decimal, pref *ExpirationPreference) (Outcome, error) {
	return s.mutate(ctx, id, "contribute", func(e Endowment, now generic.TimePoint) (Outcome, error) {
		if pc.Currency != "" && pc.Currency != currencyOf(e) {
			return Outcome{}, fmt.Errorf("%w: payment in %s for a %s endowment",
				generic.ErrInvalidInput, pc.Currency, currencyOf(e))
		}
		return s.engine.RecordContribution(e, Contribution{
			Amount:     pc.Amount,
			Routing:    routing,
			PaymentID:  pc.TransactionID,
			Preference: pref,
		}, now)
	})
}

func (s *Service) Resolve(ctx context.Context, id EndowmentID, trancheID TrancheID, action MaturityAction) (Outcome, error) {
	return s.mutate(ctx, id, "resolve_maturity", func(e Endowment, now generic.TimePoint) (Outcome, error) {
		return s.engine.ResolveMaturity(e, trancheID, action, now)
	})
}

func (s *Service) Withdraw(ctx context.Context, id EndowmentID, trancheID TrancheID) (Outcome, error) {
	return s.mutate(ctx, id, "early_withdrawal", func(e Endowment, now generic.TimePoint) (Outcome, error) {
		return s.engine.WithdrawEarly(e, trancheID, now)
	})
}

func (s *Service) PayInstallment(ctx context.Context, id EndowmentID, trancheID TrancheID, installmentID string) (Outcome, error) {
	return s.mutate(ctx, id, "pay_installment", func(e Endowment, now generic.TimePoint) (Outcome, error) {
		return s.engine.PayInstallment(e, trancheID, installmentID, now)
	})
}

func (s *Service) Distribute(ctx context.Context, id EndowmentID, d Distribution) (Outcome, error) {
	return s.mutate(ctx, id, "distribution", func(e Endowment, now generic.TimePoint) (Outcome, error) {
		return s.engine.RecordDistribution(e, d, now)
	})
}

func (s *Service) RecordReturn(ctx context.Context, id EndowmentID, amount decimal.Decimal, reference string) (Outcome, error) {
	return s.mutate(ctx, id, "investment_return", func(e Endowment, now generic.TimePoint) (Outcome, error) {
		return s.engine.RecordInvestmentReturn(e, amount, reference, now)
	})
}

func (s *Service) UpdateLockPeriod(ctx context.Context, id EndowmentID, months int) (Outcome, error) {
	return s.mutate(ctx, id, "update_lock_period", func(e Endowment, now generic.TimePoint) (Outcome, error) {
		return s.engine.UpdateLockPeriod(e, months, now)
	})
}

// ApplyPreferences executes the stored expiration preferences of one
// endowment's matured tranches.
func (s *Service) ApplyPreferences(ctx context.Context, id EndowmentID) (SweepResult, error) {
	var result SweepResult
	_, err := s.mutate(ctx, id, "apply_preferences", func(e Endowment, now generic.TimePoint) (Outcome, error) {
		out, res, err := s.engine.ApplyExpirationPreferences(e, now)
		result = res
		return out, err
	})
	return result, err
}

// mutate runs op against the latest aggregate and saves the outcome,
// retrying when another writer got there first.
func (s *Service) mutate(ctx context.Context, id EndowmentID, op string,
	fn func(e Endowment, now generic.TimePoint) (Outcome, error)) (Outcome, error) {
	log := s.log.WithFields(logrus.Fields{"endowment_id": id, "op": op})

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "endowment:"+string(id))
		if err != nil {
			return Outcome{}, fmt.Errorf("lock %s: %w", id, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("release lock")
			}
		}()
	}

	var result Outcome
	attempt := 0
	operation := func() error {
		attempt++
		e, err := s.repo.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		out, err := fn(e, s.clock())
		if err != nil {
			return backoff.Permanent(err)
		}
		if out.Unchanged {
			result = Outcome{Endowment: e, Unchanged: true}
			return nil
		}
		saved, err := s.repo.Save(ctx, out.Endowment, e.Version, out.Entries)
		if err != nil {
			if generic.IsRetryable(err) {
				log.WithField("attempt", attempt).Debug("stale aggregate, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		out.Endowment = saved
		result = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx))
	if err != nil {
		var inconsistency *generic.LedgerInconsistencyError
		switch {
		case errors.As(err, &inconsistency):
			log.WithFields(logrus.Fields{
				"invariant": inconsistency.Invariant,
				"expected":  inconsistency.Expected.String(),
				"actual":    inconsistency.Actual.String(),
			}).Error("ledger inconsistency, operation rejected")
		case generic.IsRetryable(err):
			log.WithField("attempts", attempt).Warn("gave up after concurrent modifications")
		default:
			log.WithError(err).Debug("operation rejected")
		}
		return Outcome{}, err
	}
	log.WithField("entries", len(result.Entries)).Info("operation applied")
	return result, nil
}

// =============================================================================
// SWEEP AND AUDIT
// =============================================================================

// SweepReport summarizes one pass of ApplyPreferences over all endowments
// holding tranches.
type SweepReport struct {
	StartedAt  generic.TimePoint           `json:"started_at"`
	FinishedAt generic.TimePoint           `json:"finished_at"`
	Endowments int                         `json:"endowments"`
	Applied    int                         `json:"applied"`
	Failed     int                         `json:"failed"`
	Results    map[EndowmentID]SweepResult `json:"results,omitempty"`
	Errors     map[EndowmentID]string      `json:"errors,omitempty"`
}

// Sweep applies stored preferences across every active endowment with
// tranches. One endowment failing does not stop the others.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{
		StartedAt: s.clock(),
		Results:   make(map[EndowmentID]SweepResult),
		Errors:    make(map[EndowmentID]string),
	}
	list, err := s.repo.List(ctx, ListFilter{Status: StatusActive, HasTranches: true})
	if err != nil {
		return SweepReport{}, err
	}
	for _, e := range list {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Endowments++
		res, err := s.ApplyPreferences(ctx, e.ID)
		if err != nil {
			report.Errors[e.ID] = err.Error()
			continue
		}
		if len(res.Applied) > 0 || len(res.Failed) > 0 {
			report.Results[e.ID] = res
		}
		report.Applied += len(res.Applied)
		report.Failed += len(res.Failed)
	}
	report.FinishedAt = s.clock()
	s.log.WithFields(logrus.Fields{
		"endowments": report.Endowments,
		"applied":    report.Applied,
		"failed":     report.Failed,
		"errors":     len(report.Errors),
	}).Info("maturity sweep finished")
	return report, nil
}

// AuditReport compares the aggregate's totals to a replay of its ledger.
type AuditReport struct {
	EndowmentID EndowmentID          `json:"endowment_id"`
	Ledger      generic.LedgerTotals `json:"ledger"`
	Consistent  bool                 `json:"consistent"`
	Differences []string             `json:"differences,omitempty"`
}

// Audit replays the ledger and checks it against the stored aggregate.
func (s *Service) Audit(ctx context.Context, id EndowmentID) (AuditReport, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	txs, err := s.repo.Transactions(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	totals := generic.ReplayTotals(txs, generic.TimePoint{})
	report := AuditReport{EndowmentID: id, Ledger: totals}

	f := e.Financial
	compare := func(name string, ledger, aggregate decimal.Decimal) {
		if ledger.Sub(aggregate).Abs().GreaterThan(MoneyTolerance) {
			report.Differences = append(report.Differences,
				fmt.Sprintf("%s: ledger %s, aggregate %s", name, ledger.StringFixed(2), aggregate.StringFixed(2)))
		}
	}
	compare("total_donations", totals.Donations, f.TotalDonations)
	compare("total_distributed", totals.Distributed, f.TotalDistributed)
	compare("total_investment_return", totals.InvestmentReturn, f.TotalInvestmentReturn)
	compare("current_balance", totals.Balance(), f.CurrentBalance)
	report.Consistent = len(report.Differences) == 0
	if !report.Consistent {
		s.log.WithFields(logrus.Fields{"endowment_id": id, "differences": report.Differences}).
			Error("ledger replay disagrees with aggregate")
	}
	return report, nil
}
