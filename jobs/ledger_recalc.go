package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/roamly/roamly-payments/internal/ledger"
)

// recalcConcurrency bounds the parallel recalculations so the sweep never
// saturates the pool.
const recalcConcurrency = 4

// NewLedgerRecalcHandler returns the handler for the nightly balance sweep.
// It recomputes every cached balance from the entry log, repairing any drift
// the incremental path may have accumulated. Per-account failures are logged
// and skipped so one bad account never aborts the sweep.
func NewLedgerRecalcHandler(pool *pgxpool.Pool, service *ledger.Service, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		rows, err := pool.Query(ctx, `SELECT org_id, account_id, currency FROM account_balances`)
		if err != nil {
			return err
		}
		defer rows.Close()

		type target struct {
			orgID     uuid.UUID
			accountID uuid.UUID
			currency  string
		}
		var targets []target
		for rows.Next() {
			var tg target
			if err := rows.Scan(&tg.orgID, &tg.accountID, &tg.currency); err != nil {
				return err
			}
			targets = append(targets, tg)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		var repaired atomic.Int64
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(recalcConcurrency)
		for _, tg := range targets {
			tg := tg
			g.Go(func() error {
				if _, err := service.Recalculate(ctx, tg.orgID, tg.accountID, tg.currency); err != nil {
					logger.Error("recalculate balance", slog.Any("error", err),
						slog.String("org_id", tg.orgID.String()),
						slog.String("account_id", tg.accountID.String()),
						slog.String("currency", tg.currency))
					return nil
				}
				repaired.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		logger.Info("ledger balance sweep finished",
			slog.Int("accounts", len(targets)),
			slog.Int64("recalculated", repaired.Load()))
		return nil
	}
}
