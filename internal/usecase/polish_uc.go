// File: internal/usecase/polish_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/logging"
	"codepolish/internal/infra/metrics"
)

// Compile-time check
var _ PolishUseCase = (*polishUC)(nil)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
	sweepBatch       = 100
)

// JobQueue hands a polish id to background execution. Enqueue must not block.
type JobQueue interface {
	Enqueue(polishID int64) error
}

type CreatePolishInput struct {
	Name         string
	Framework    model.Framework
	OriginalCode string
	Preset       model.Preset
	Rules        *model.Rules
}

type PolishPage struct {
	Items   []*model.Polish `json:"items"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"hasMore"`
}

type PolishUseCase interface {
	Create(ctx context.Context, userID int64, in CreatePolishInput) (*model.Polish, error)
	Get(ctx context.Context, userID, polishID int64) (*model.Polish, error)
	List(ctx context.Context, userID int64, limit, offset int, status model.PolishStatus) (*PolishPage, error)
	Delete(ctx context.Context, userID, polishID int64) error
	Retry(ctx context.Context, userID, polishID int64) (*model.Polish, error)

	// Process runs the pipeline for one pending job. It is what the worker pool executes.
	Process(ctx context.Context, polishID int64) error
	// DispatchPending re-enqueues jobs left pending for longer than grace.
	DispatchPending(ctx context.Context, grace time.Duration) (int, error)
	// FailStuck fails and refunds jobs that sat in analyzing or polishing for longer than after.
	FailStuck(ctx context.Context, after time.Duration) (int, error)
	// ReconcileRefunds retries refunds that failed when their job failed.
	ReconcileRefunds(ctx context.Context) (int, error)
}

type polishUC struct {
	polishes repository.PolishRepository
	subs     repository.SubscriptionRepository
	ledger   repository.CreditLedger
	polisher adapter.Polisher
	queue    JobQueue
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewPolishUseCase(
	polishes repository.PolishRepository,
	subs repository.SubscriptionRepository,
	ledger repository.CreditLedger,
	polisher adapter.Polisher,
	queue JobQueue,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *polishUC {
	return &polishUC{
		polishes: polishes,
		subs:     subs,
		ledger:   ledger,
		polisher: polisher,
		queue:    queue,
		tm:       tm,
		log:      logger,
	}
}

func (u *polishUC) Create(ctx context.Context, userID int64, in CreatePolishInput) (*model.Polish, error) {
	defer logging.TraceDuration(u.log, "PolishUC.Create")()

	p, err := model.NewPolish(userID, in.Name, in.Framework, in.OriginalCode, in.Preset, in.Rules)
	if err != nil {
		return nil, err
	}
	if _, err := ensureSubscription(ctx, u.subs, repository.NoTX, userID); err != nil {
		return nil, err
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.polishes.Create(ctx, tx, p); err != nil {
			return err
		}
		id := p.ID
		_, err := u.ledger.Debit(ctx, tx, userID, p.CreditsUsed, &id)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.IncPolishJob(string(model.PolishStatusPending), u.polisher.Name())

	u.enqueue(ctx, p.ID)
	return p, nil
}

func (u *polishUC) enqueue(ctx context.Context, id int64) {
	if err := u.queue.Enqueue(id); err != nil {
		// stays pending; the dispatcher picks it up later
		metrics.IncQueueRejected()
		logging.With(ctx, u.log).Warn().Err(err).Int64("polish_id", id).Msg("enqueue failed")
	}
}

func (u *polishUC) Get(ctx context.Context, userID, polishID int64) (*model.Polish, error) {
	defer logging.TraceDuration(u.log, "PolishUC.Get")()
	return u.owned(ctx, repository.NoTX, userID, polishID, false)
}

func (u *polishUC) owned(ctx context.Context, tx repository.Tx, userID, polishID int64, lock bool) (*model.Polish, error) {
	var (
		p   *model.Polish
		err error
	)
	if lock {
		p, err = u.polishes.FindByIDForUpdate(ctx, tx, polishID)
	} else {
		p, err = u.polishes.FindByID(ctx, tx, polishID)
	}
	if err != nil {
		return nil, err
	}
	if !p.OwnedBy(userID) {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

func (u *polishUC) List(ctx context.Context, userID int64, limit, offset int, status model.PolishStatus) (*PolishPage, error) {
	defer logging.TraceDuration(u.log, "PolishUC.List")()

	if limit < 1 || limit > MaxListLimit {
		return nil, domain.Invalid("limit must be between 1 and %d", MaxListLimit)
	}
	if offset < 0 {
		return nil, domain.Invalid("offset must not be negative")
	}
	if status != "" && !status.Valid() {
		return nil, domain.Invalid("unknown status %q", status)
	}

	f := model.PolishFilter{UserID: userID, Status: status, Limit: limit, Offset: offset}
	items, err := u.polishes.List(ctx, repository.NoTX, f)
	if err != nil {
		return nil, err
	}
	total, err := u.polishes.Count(ctx, repository.NoTX, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.Polish{}
	}
	return &PolishPage{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	}, nil
}

func (u *polishUC) Delete(ctx context.Context, userID, polishID int64) error {
	defer logging.TraceDuration(u.log, "PolishUC.Delete")()
	if _, err := u.owned(ctx, repository.NoTX, userID, polishID, false); err != nil {
		return err
	}
	return u.polishes.Delete(ctx, repository.NoTX, polishID, userID)
}

// Retry resets a failed job and charges for it again, unless the original
// charge was never refunded, in which case that charge carries over.
func (u *polishUC) Retry(ctx context.Context, userID, polishID int64) (*model.Polish, error) {
	defer logging.TraceDuration(u.log, "PolishUC.Retry")()

	var out *model.Polish
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.owned(ctx, tx, userID, polishID, true)
		if err != nil {
			return err
		}
		if p.Status != model.PolishStatusFailed {
			return fmt.Errorf("%w: only failed polishes can be retried", domain.ErrInvalidState)
		}
		if p.Refunded {
			id := p.ID
			if _, err := u.ledger.Debit(ctx, tx, userID, p.CreditsUsed, &id); err != nil {
				return err
			}
		}
		ok, err := u.polishes.ResetForRetry(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidState
		}
		out, err = u.polishes.FindByID(ctx, tx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	u.enqueue(ctx, out.ID)
	return out, nil
}

// errLost means another actor moved the job; the pipeline stops quietly.
var errLost = errors.New("polish state changed underneath the pipeline")

func (u *polishUC) Process(ctx context.Context, polishID int64) error {
	start := time.Now()
	ctx = logging.WithPolishID(ctx, polishID)

	claimed, err := u.polishes.ClaimPending(ctx, repository.NoTX, polishID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	p, err := u.polishes.FindByID(ctx, repository.NoTX, polishID)
	if err != nil {
		return err
	}
	ctx = logging.WithUserID(ctx, p.UserID)
	log := logging.With(ctx, u.log)
	log.Debug().Str("polisher", u.polisher.Name()).Msg("polish started")

	err = u.run(ctx, p, start)
	switch {
	case err == nil:
		metrics.IncPolishJob(string(model.PolishStatusCompleted), u.polisher.Name())
		metrics.ObservePolishDuration(string(model.PolishStatusCompleted), time.Since(start))
		log.Info().Dur("elapsed", time.Since(start)).Msg("polish completed")
		return nil
	case errors.Is(err, errLost):
		log.Info().Msg("polish abandoned, job changed by another actor")
		return nil
	}

	log.Warn().Err(err).Msg("polish failed")
	u.fail(context.WithoutCancel(ctx), p, failureReason(err), time.Since(start))
	return nil
}

func (u *polishUC) run(ctx context.Context, p *model.Polish, start time.Time) error {
	score, issues, err := u.polisher.Analyze(ctx, p.OriginalCode, p.Framework, p.Rules)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if issues == nil {
		issues = []model.Issue{}
	}
	ok, err := u.polishes.MarkPolishing(ctx, repository.NoTX, p.ID, model.ClampScore(score), issues)
	if err != nil {
		return err
	}
	if !ok {
		return errLost
	}

	tr, err := u.polisher.Transform(ctx, p.OriginalCode, p.Framework, p.Preset, p.Rules, issues)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	if strings.TrimSpace(tr.Code) == "" {
		return fmt.Errorf("transform: %w: empty output", domain.ErrPolishFailed)
	}
	var after int
	if tr.ScoreAfter != nil {
		after = *tr.ScoreAfter
	} else if after, _, err = u.polisher.Analyze(ctx, tr.Code, p.Framework, p.Rules); err != nil {
		return fmt.Errorf("score result: %w", err)
	}

	ok, err = u.polishes.MarkCompleted(ctx, repository.NoTX, p.ID, model.PolishResult{
		PolishedCode:      tr.Code,
		QualityScoreAfter: model.ClampScore(after),
		Summary:           tr.Summary,
		ProcessingTime:    time.Since(start),
	})
	if err != nil {
		return err
	}
	if !ok {
		return errLost
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Polish processing timed out"
	case errors.Is(err, context.Canceled):
		return "Polish processing was interrupted"
	}
	return "Polish processing failed: " + err.Error()
}

// fail moves the job to failed and refunds it. A refund error is logged and
// left for ReconcileRefunds.
func (u *polishUC) fail(ctx context.Context, p *model.Polish, reason string, elapsed time.Duration) {
	log := logging.With(ctx, u.log)
	ok, err := u.polishes.MarkFailed(ctx, repository.NoTX, p.ID, reason, elapsed)
	if err != nil {
		log.Error().Err(err).Msg("mark failed")
		return
	}
	if !ok {
		return
	}
	metrics.IncPolishJob(string(model.PolishStatusFailed), u.polisher.Name())
	metrics.ObservePolishDuration(string(model.PolishStatusFailed), elapsed)

	if _, err := u.refund(ctx, p); err != nil {
		log.Error().Err(err).Msg("refund failed; left for the reconciler")
	}
}

// refund returns the job's credit exactly once. It reports false when the
// job was already refunded or is no longer failed.
func (u *polishUC) refund(ctx context.Context, p *model.Polish) (bool, error) {
	var done bool
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.polishes.MarkRefunded(ctx, tx, p.ID)
		if err != nil || !ok {
			return err
		}
		id := p.ID
		if _, err := u.ledger.Refund(ctx, tx, p.UserID, p.CreditsUsed, &id); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

func (u *polishUC) DispatchPending(ctx context.Context, grace time.Duration) (int, error) {
	ids, err := u.polishes.ListPendingOlderThan(ctx, repository.NoTX, time.Now().Add(-grace), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := u.queue.Enqueue(id); err != nil {
			metrics.IncQueueRejected()
			break
		}
		// a queued job is not picked again until another grace period passes
		if err := u.polishes.TouchPending(ctx, repository.NoTX, id); err != nil {
			u.log.Warn().Err(err).Int64("polish_id", id).Msg("touch dispatched job failed")
		}
		n++
	}
	metrics.AddSwept("dispatch", n)
	return n, nil
}

func (u *polishUC) FailStuck(ctx context.Context, after time.Duration) (int, error) {
	ids, err := u.polishes.ListStuck(ctx, repository.NoTX, time.Now().Add(-after), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		p, err := u.polishes.FindByID(ctx, repository.NoTX, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return n, err
		}
		if p.Status.Terminal() {
			continue
		}
		u.fail(logging.WithPolishID(ctx, id), p, "Polish processing was interrupted", time.Since(p.CreatedAt))
		n++
	}
	metrics.AddSwept("stuck", n)
	return n, nil
}

func (u *polishUC) ReconcileRefunds(ctx context.Context) (int, error) {
	failed, err := u.polishes.ListUnrefundedFailed(ctx, repository.NoTX, sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range failed {
		ok, err := u.refund(ctx, p)
		if err != nil {
			logging.With(logging.WithPolishID(ctx, p.ID), u.log).Error().Err(err).Msg("refund retry failed")
			continue
		}
		if ok {
			n++
		}
	}
	metrics.AddSwept("refund", n)
	return n, nil
}
