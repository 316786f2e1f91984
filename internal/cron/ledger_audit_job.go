package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/giftledger-backend/internal/balance"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
)

const defaultAuditBatchSize = 200

type ledgerSummer interface {
	ItemLedgerSums(ctx context.Context, afterID uuid.UUID, batchSize int) ([]balance.ItemLedgerSum, error)
}

type driftRecorder interface {
	SetDrift(totalCents int64, items int)
}

type LedgerAuditJobParams struct {
	Logger    *logger.Logger
	Ledger    ledgerSummer
	Metrics   driftRecorder
	BatchSize int
}

// NewLedgerAuditJob compares every item's stored progress with the sum of its
// paid contributions. It reports; it never repairs.
func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger summer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultAuditBatchSize
	}
	return &ledgerAuditJob{
		logg:    params.Logger,
		ledger:  params.Ledger,
		metrics: params.Metrics,
		batch:   batch,
	}, nil
}

type ledgerAuditJob struct {
	logg    *logger.Logger
	ledger  ledgerSummer
	metrics driftRecorder
	batch   int
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	var (
		findings   error
		after      uuid.UUID
		scanned    int
		drifted    int
		totalDrift int64
	)
	for {
		sums, err := j.ledger.ItemLedgerSums(ctx, after, j.batch)
		if err != nil {
			return fmt.Errorf("ledger audit after %s: %w", after, err)
		}
		for _, sum := range sums {
			scanned++
			if drift := sum.Drift(); drift != 0 {
				drifted++
				totalDrift += absCents(drift.Int64())
				findings = multierr.Append(findings, fmt.Errorf("item %s: stored %s, ledger %s", sum.ItemID, sum.Stored, sum.LedgerTotal))
				j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
					"item_id":      sum.ItemID.String(),
					"registry_id":  sum.RegistryID.String(),
					"stored_cents": sum.Stored.Int64(),
					"ledger_cents": sum.LedgerTotal.Int64(),
				}), "item progress drifted from ledger")
			}
			if sum.Stored < 0 {
				findings = multierr.Append(findings, fmt.Errorf("item %s: negative accumulated %s", sum.ItemID, sum.Stored))
			}
			if !sum.FulfillmentConsistent() {
				findings = multierr.Append(findings, fmt.Errorf("item %s: fulfilled=%t with %s of %s", sum.ItemID, sum.Fulfilled, sum.Stored, sum.Goal))
			}
		}
		if len(sums) < j.batch {
			break
		}
		after = sums[len(sums)-1].ItemID
	}

	if j.metrics != nil {
		j.metrics.SetDrift(totalDrift, drifted)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"items_scanned":     scanned,
		"items_drifted":     drifted,
		"drift_total_cents": totalDrift,
		"findings":          len(multierr.Errors(findings)),
	})
	if findings != nil {
		return fmt.Errorf("ledger audit found %d inconsistencies: %w", len(multierr.Errors(findings)), findings)
	}
	j.logg.Info(logCtx, "ledger audit clean")
	return nil
}

func absCents(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
