// Package services – TodoGenerator
//
// TodoGenerator turns a store's enabled generation rules into follow-up todos
// for casts. A cycle walks every store with bounded parallelism; failures are
// isolated per store, per rule and per customer so that one bad row never
// stops the rest of the cycle.
//
// Duplicate suppression is check-then-create against open todos, backed by the
// partial unique index on (customer_id, type) for open statuses. Cycles are
// serialized by a named lock so overlapping triggers (cron, CLI, admin API)
// do not race.

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/cache"
	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/events"
	"github.com/tbourn/nightlife-crm/internal/observability"
	"github.com/tbourn/nightlife-crm/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CycleLockKey names the lock held for the duration of a generation cycle.
const CycleLockKey = "generation:cycle"

// defaultRuleDays maps follow-up rule types to their days-after-last-visit.
var defaultRuleDays = map[domain.TodoType]int{
	domain.TodoFollowUp7:    7,
	domain.TodoFollowUp14:   14,
	domain.TodoReactivate30: 30,
}

// RuleOutcome counts what one rule did for one store. Unsupported is set for
// rule types that are recognized but have no generator yet, which is not the
// same as "ran and found nothing".
type RuleOutcome struct {
	Rule        domain.TodoType `json:"rule"`
	Created     int             `json:"created"`
	Skipped     int             `json:"skipped"`
	Failed      int             `json:"failed"`
	Unsupported bool            `json:"unsupported,omitempty"`
	ErrorText   string          `json:"error,omitempty"`
	Err         error           `json:"-"`
}

func (o *RuleOutcome) fail(err error) {
	o.Err = err
	o.ErrorText = err.Error()
}

// StoreResult aggregates rule outcomes for one store. Err is set when the
// store could not be processed at all: its rules did not load, it panicked,
// or every rule that ran failed.
type StoreResult struct {
	StoreID     string        `json:"store_id"`
	Created     int           `json:"created"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	FailedRules int           `json:"failed_rules"`
	Rules       []RuleOutcome `json:"rules"`
	ErrorText   string        `json:"error,omitempty"`
	Err         error         `json:"-"`
}

func (r *StoreResult) fail(err error) {
	r.Err = err
	r.ErrorText = err.Error()
}

// Error reports the store-level error message, if any.
func (r StoreResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// CycleReport is the result of one RunCycle.
type CycleReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Stores    []StoreResult `json:"stores"`
	Created   int           `json:"created"`
	Failed    int           `json:"failed_stores"`
}

// TodoGenerator runs generation cycles.
type TodoGenerator struct {
	DB      *gorm.DB
	Locker  cache.Locker
	Events  events.Publisher
	Metrics *observability.Metrics
	Log     zerolog.Logger

	// Concurrency bounds how many stores are processed at once (min 1).
	Concurrency int
	// LockTTL bounds how long a crashed cycle can keep others out.
	LockTTL time.Duration
}

// RunCycle processes every store at now. It returns ErrCycleInProgress when
// another cycle holds the lock, and ErrAllStoresFailed (with the report) when
// there was at least one store and every one failed.
func (g *TodoGenerator) RunCycle(ctx context.Context, now time.Time) (*CycleReport, error) {
	tr := otel.Tracer("services/TodoGenerator")
	ctx, span := tr.Start(ctx, "RunCycle")
	defer span.End()

	if g.Locker != nil {
		lock, err := g.Locker.Acquire(ctx, CycleLockKey, g.lockTTL())
		switch {
		case errors.Is(err, cache.ErrLockHeld):
			return nil, ErrCycleInProgress
		case err != nil:
			// The open-todo index still prevents duplicates without the lock.
			g.Log.Warn().Err(err).Msg("generation lock unavailable; running unlocked")
		default:
			defer func() {
				if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
					g.Log.Warn().Err(rerr).Msg("release generation lock")
				}
			}()
		}
	}

	started := time.Now()
	stores, err := repo.ListStores(ctx, g.DB)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list stores")
		return nil, fmt.Errorf("list stores: %w", err)
	}

	results := make([]StoreResult, len(stores))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency())
	for i := range stores {
		eg.Go(func() error {
			results[i] = g.safeGenerate(egctx, &stores[i], now)
			return nil
		})
	}
	_ = eg.Wait()

	rep := &CycleReport{StartedAt: now, Stores: results, Duration: time.Since(started)}
	for _, r := range results {
		rep.Created += r.Created
		if r.Err != nil {
			rep.Failed++
			g.Metrics.StoreFailed()
		}
	}
	g.Metrics.CycleDone(rep.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("stores", len(stores)),
		attribute.Int("todos.created", rep.Created),
		attribute.Int("stores.failed", rep.Failed),
	)

	g.Log.Info().
		Int("stores", len(stores)).
		Int("created", rep.Created).
		Int("failed_stores", rep.Failed).
		Dur("took", rep.Duration).
		Msg("generation cycle finished")

	if len(stores) > 0 && rep.Failed == len(stores) {
		span.SetStatus(codes.Error, "all stores failed")
		return rep, ErrAllStoresFailed
	}
	return rep, nil
}

// RunStore generates todos for a single store at now. It returns
// ErrStoreNotFound for an unknown store, ErrCycleInProgress while another
// cycle or store run holds the lock, and ErrStoreGenerationFailed together
// with the result when the store failed.
func (g *TodoGenerator) RunStore(ctx context.Context, storeID string, now time.Time) (*StoreResult, error) {
	tr := otel.Tracer("services/TodoGenerator")
	ctx, span := tr.Start(ctx, "RunStore",
		trace.WithAttributes(attribute.String("store.id", storeID)),
	)
	defer span.End()

	st, err := repo.GetStore(ctx, g.DB, storeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrStoreNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("get store: %w", err)
	}

	if g.Locker != nil {
		// Shares the cycle lock so a store is never generated twice at once.
		lock, err := g.Locker.Acquire(ctx, CycleLockKey, g.lockTTL())
		switch {
		case errors.Is(err, cache.ErrLockHeld):
			return nil, ErrCycleInProgress
		case err != nil:
			g.Log.Warn().Err(err).Str("store_id", storeID).Msg("generation lock unavailable; running unlocked")
		default:
			defer func() {
				if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
					g.Log.Warn().Err(rerr).Msg("release generation lock")
				}
			}()
		}
	}

	res := g.safeGenerate(ctx, st, now)
	if res.Err != nil {
		g.Metrics.StoreFailed()
		span.SetStatus(codes.Error, "store failed")
		return &res, fmt.Errorf("%w: %v", ErrStoreGenerationFailed, res.Err)
	}
	return &res, nil
}

// safeGenerate keeps a panic in one store from taking down the cycle.
func (g *TodoGenerator) safeGenerate(ctx context.Context, st *domain.Store, now time.Time) (res StoreResult) {
	defer func() {
		if p := recover(); p != nil {
			res = StoreResult{StoreID: st.ID}
			res.fail(fmt.Errorf("panic: %v", p))
			g.Log.Error().Str("store_id", st.ID).Interface("panic", p).Msg("generation panicked")
		}
	}()
	return g.GenerateForStore(ctx, st, now)
}

// GenerateForStore runs every enabled rule of a store. A rule failure is
// recorded in its outcome and counted in FailedRules. The store fails when its
// rules cannot be loaded or when every rule that ran failed; unsupported rules
// do not count as run.
func (g *TodoGenerator) GenerateForStore(ctx context.Context, st *domain.Store, now time.Time) StoreResult {
	tr := otel.Tracer("services/TodoGenerator")
	ctx, span := tr.Start(ctx, "GenerateForStore",
		trace.WithAttributes(attribute.String("store.id", st.ID)),
	)
	defer span.End()

	res := StoreResult{StoreID: st.ID}
	log := g.Log.With().Str("store_id", st.ID).Logger()

	rules, err := repo.ListEnabledRules(ctx, g.DB, st.ID)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("load generation rules")
		res.fail(fmt.Errorf("load rules: %w", err))
		return res
	}

	var (
		ran     int
		ruleErr []error
	)
	for _, rule := range rules {
		var out RuleOutcome
		switch rule.RuleType {
		case domain.TodoFollowUp7, domain.TodoFollowUp14, domain.TodoReactivate30:
			days := defaultRuleDays[rule.RuleType]
			if rule.DaysAfterLastVisit != nil && *rule.DaysAfterLastVisit > 0 {
				days = *rule.DaysAfterLastVisit
			}
			out = g.GenerateFollowUps(ctx, st, days, rule.RuleType, now)
		case domain.TodoBirthday:
			// Customers carry no birth date yet.
			log.Info().Str("rule", string(rule.RuleType)).Msg("rule type not implemented; skipped")
			out = RuleOutcome{Rule: rule.RuleType, Unsupported: true}
		default:
			log.Warn().Str("rule", string(rule.RuleType)).Msg("unknown rule type")
			out = RuleOutcome{Rule: rule.RuleType}
			out.fail(fmt.Errorf("%w: %s", ErrUnknownRuleType, rule.RuleType))
		}
		if !out.Unsupported {
			ran++
		}
		if out.Err != nil {
			res.FailedRules++
			ruleErr = append(ruleErr, fmt.Errorf("%s: %w", out.Rule, out.Err))
		}
		res.Created += out.Created
		res.Skipped += out.Skipped
		res.Failed += out.Failed
		res.Rules = append(res.Rules, out)
	}

	if ran > 0 && res.FailedRules == ran {
		res.fail(fmt.Errorf("all %d rules failed: %w", ran, errors.Join(ruleErr...)))
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "all rules failed")
		log.Error().Err(res.Err).Msg("every generation rule failed")
	}

	span.SetAttributes(
		attribute.Int("todos.created", res.Created),
		attribute.Int("rules.failed", res.FailedRules),
	)
	log.Debug().Int("created", res.Created).Int("skipped", res.Skipped).Int("failed", res.Failed).Msg("store generated")
	return res
}

// GenerateFollowUps creates todoType todos for active, assigned customers of
// a store whose last visit fell on the calendar day days before now (in now's
// location). Customers with an open todo of that type are skipped. Todos are
// due at now and belong to the customer's assigned cast.
func (g *TodoGenerator) GenerateFollowUps(ctx context.Context, st *domain.Store, days int, todoType domain.TodoType, now time.Time) RuleOutcome {
	tr := otel.Tracer("services/TodoGenerator")
	ctx, span := tr.Start(ctx, "GenerateFollowUps",
		trace.WithAttributes(
			attribute.String("store.id", st.ID),
			attribute.String("rule", string(todoType)),
			attribute.Int("days", days),
		),
	)
	defer span.End()

	out := RuleOutcome{Rule: todoType}
	log := g.Log.With().Str("store_id", st.ID).Str("rule", string(todoType)).Logger()

	from, to := dayWindow(now, days)
	candidates, err := repo.ListFollowUpCandidates(ctx, g.DB, st.ID, from, to)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("select follow-up candidates")
		out.fail(err)
		return out
	}

	for i := range candidates {
		c := &candidates[i]
		created, err := g.createIfAbsent(ctx, c, todoType, now)
		switch {
		case err != nil:
			out.Failed++
			log.Warn().Err(err).Str("customer_id", c.ID).Msg("create follow-up todo")
		case created:
			out.Created++
		default:
			out.Skipped++
		}
	}
	return out
}

func (g *TodoGenerator) createIfAbsent(ctx context.Context, c *domain.Customer, todoType domain.TodoType, now time.Time) (bool, error) {
	open, err := repo.HasOpenTodo(ctx, g.DB, c.ID, todoType)
	if err != nil {
		return false, err
	}
	if open {
		return false, nil
	}

	t := &domain.Todo{
		StoreID:    c.StoreID,
		CustomerID: c.ID,
		CastID:     *c.AssignedCastID,
		Type:       todoType,
		DueDate:    now,
		Status:     domain.TodoPending,
	}
	if err := repo.CreateTodo(ctx, g.DB, t); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}

	g.Metrics.TodoCreated(string(todoType))
	if g.Events != nil {
		ev := events.TodoCreatedEvent{
			TodoID: t.ID, StoreID: t.StoreID, CustomerID: t.CustomerID,
			CastID: t.CastID, Type: string(t.Type), DueDate: t.DueDate,
		}
		if err := g.Events.Publish(ctx, events.TodoCreated, ev); err != nil {
			g.Log.Warn().Err(err).Str("todo_id", t.ID).Msg("publish todo.created")
		}
	}
	return true, nil
}

// dayWindow returns [startOfDay(now-days), +1 day) in now's location.
func dayWindow(now time.Time, days int) (time.Time, time.Time) {
	d := now.AddDate(0, 0, -days)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

// DefaultRules returns the rules a newly provisioned store starts with.
func DefaultRules(storeID string) []domain.TodoGenerationRule {
	out := make([]domain.TodoGenerationRule, 0, 3)
	for _, t := range []domain.TodoType{domain.TodoFollowUp7, domain.TodoFollowUp14, domain.TodoReactivate30} {
		days := defaultRuleDays[t]
		out = append(out, domain.TodoGenerationRule{
			StoreID:            storeID,
			RuleType:           t,
			IsEnabled:          true,
			DaysAfterLastVisit: &days,
			CronSchedule:       "0 12 * * *",
		})
	}
	return out
}

func (g *TodoGenerator) concurrency() int {
	if g.Concurrency < 1 {
		return 1
	}
	return g.Concurrency
}

func (g *TodoGenerator) lockTTL() time.Duration {
	if g.LockTTL <= 0 {
		return 10 * time.Minute
	}
	return g.LockTTL
}
