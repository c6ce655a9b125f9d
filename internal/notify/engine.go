package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bolivarwatch/internal/history"
	"bolivarwatch/internal/rates"
	"bolivarwatch/internal/service"
	"bolivarwatch/internal/subscribers"
)

// ErrMissingRequiredSource indicates the aggregation succeeded but lacked a
// currency the engine cannot evaluate without.
var ErrMissingRequiredSource = errors.New("snapshot missing a required source")

// MessageType names what kind of notification a run produced.
type MessageType string

const (
	TypeInitialSetup MessageType = "initial_setup"
	TypeDailyDigest  MessageType = "daily_report"
	TypeChangeAlert  MessageType = "change_detected"
)

// Result reports one evaluation run.
type Result struct {
	Notified         bool                              `json:"notified"`
	Type             MessageType                       `json:"type,omitempty"`
	Rates            map[rates.Source]decimal.Decimal  `json:"rates"`
	ChangePercent    map[rates.Source]decimal.Decimal  `json:"changePercent,omitempty"`
	Significant      []rates.Source                    `json:"significantChanges,omitempty"`
	Recipients       int                               `json:"recipients"`
	DeliveryFailures int                               `json:"deliveryFailures"`
}

// SnapshotProvider hands the engine a current snapshot.
type SnapshotProvider interface {
	Aggregate(ctx context.Context) (rates.Snapshot, service.CacheStatus, error)
}

// BaselineStore looks up the change-comparison baseline.
type BaselineStore interface {
	BaselineBefore(ctx context.Context, day time.Time) (*history.Record, error)
}

// Options tune the engine's decision rules.
type Options struct {
	ThresholdPct  decimal.Decimal
	DigestHour    int
	DigestMinutes int
	Location      *time.Location
}

// Engine decides whether the latest snapshot warrants notifying subscribers
// and fans the rendered message out. It keeps no state between runs; the
// durable baseline row is the only memory.
type Engine struct {
	provider  SnapshotProvider
	baselines BaselineStore
	directory subscribers.Directory
	sender    Sender
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine constructs the change-notification engine.
func NewEngine(provider SnapshotProvider, baselines BaselineStore, directory subscribers.Directory, sender Sender, opts Options, logger zerolog.Logger) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ThresholdPct.IsZero() {
		opts.ThresholdPct = decimal.NewFromInt(1)
	}
	if opts.DigestMinutes <= 0 {
		opts.DigestMinutes = 30
	}

	return &Engine{
		provider:  provider,
		baselines: baselines,
		directory: directory,
		sender:    sender,
		opts:      opts,
		logger:    logger.With().Str("component", "notify_engine").Logger(),
		now:       time.Now,
	}
}

// Evaluate runs the engine once: aggregate, compare against the last
// pre-today record, decide, and broadcast when warranted.
func (e *Engine) Evaluate(ctx context.Context) (Result, error) {
	snap, _, err := e.provider.Aggregate(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate rates: %w", err)
	}

	current := make(map[rates.Source]decimal.Decimal, 3)
	for _, source := range rates.Required() {
		quote, ok := snap.Quote(source)
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrMissingRequiredSource, source)
		}
		current[source] = quote.Mid
	}

	spread := history.Spread(current[rates.SourceOficial], current[rates.SourceParalelo])

	localNow := e.now().In(e.opts.Location)
	today := rates.DayStart(e.now(), e.opts.Location)

	baseline, err := e.baselines.BaselineBefore(ctx, today)
	if err != nil {
		return Result{}, fmt.Errorf("lookup baseline: %w", err)
	}

	// First run ever: bootstrap notification, no change math.
	if baseline == nil {
		message := renderInitialSetup(current, spread, localNow)
		result := Result{Notified: true, Type: TypeInitialSetup, Rates: current}
		return e.dispatch(ctx, message, result)
	}

	prev := map[rates.Source]decimal.Decimal{
		rates.SourceOficial:  baseline.Oficial,
		rates.SourceParalelo: baseline.Paralelo,
	}
	if baseline.Euro != nil {
		prev[rates.SourceEuro] = *baseline.Euro
	}

	change := make(map[rates.Source]decimal.Decimal, 3)
	for _, source := range rates.Required() {
		base, ok := prev[source]
		if !ok || base.IsZero() {
			change[source] = decimal.Zero
			continue
		}
		change[source] = current[source].Sub(base).Div(base).Mul(decimal.NewFromInt(100))
	}

	inDigestWindow := localNow.Hour() == e.opts.DigestHour && localNow.Minute() < e.opts.DigestMinutes

	var significant []rates.Source
	if !inDigestWindow {
		for _, source := range rates.Required() {
			if change[source].Abs().GreaterThanOrEqual(e.opts.ThresholdPct) {
				significant = append(significant, source)
			}
		}
	}

	result := Result{Rates: current, ChangePercent: change}

	if !inDigestWindow && len(significant) == 0 {
		e.logger.Info().Msg("no significant change, suppressing notification")
		return result, nil
	}

	var message string
	if inDigestWindow {
		result.Type = TypeDailyDigest
		message = renderDailyDigest(current, change, spread, localNow)
	} else {
		result.Type = TypeChangeAlert
		result.Significant = significant
		message = renderChangeAlert(current, prev, change, significant, spread, localNow)
	}

	result.Notified = true
	return e.dispatch(ctx, message, result)
}

// dispatch broadcasts the message to every active recipient concurrently.
// Per-recipient failures are tallied, never fatal: partial delivery is a
// success at the pipeline level.
func (e *Engine) dispatch(ctx context.Context, message string, result Result) (Result, error) {
	chatIDs, err := e.directory.ActiveChatIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active recipients: %w", err)
	}

	result.Recipients = len(chatIDs)
	if len(chatIDs) == 0 {
		e.logger.Info().Msg("no active subscribers")
		return result, nil
	}

	var failures atomic.Int64
	var wg sync.WaitGroup
	for _, chatID := range chatIDs {
		wg.Add(1)
		go func(chatID string) {
			defer wg.Done()
			if err := e.sender.Send(ctx, chatID, message); err != nil {
				failures.Add(1)
				e.logger.Error().Err(err).Str("chat_id", chatID).Msg("delivery failed")
			}
		}(chatID)
	}
	wg.Wait()

	result.DeliveryFailures = int(failures.Load())
	e.logger.Info().
		Str("type", string(result.Type)).
		Int("recipients", result.Recipients).
		Int("failures", result.DeliveryFailures).
		Msg("notification dispatched")

	return result, nil
}
