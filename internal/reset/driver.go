package reset

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/catalogsync/internal/cron"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
)

// Process exit codes of a reset batch.
const (
	ExitOK            = 0
	ExitSetupError    = 1
	ExitProductFailed = 2
)

// ErrProductLocked is returned when another run holds the product.
var ErrProductLocked = errors.New("product is locked by another run")

// Runner resets a single product. *Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, productID int64) (*Outcome, error)
}

// DriverParams wires a Driver. Locks and Metrics are optional.
type DriverParams struct {
	Runner  Runner
	Locks   cron.LockFactory
	Logger  *logger.Logger
	Metrics *metrics.ResetMetrics
	BatchID string
}

// Driver runs a list of products one after another. A failing product never
// stops the ones after it.
type Driver struct {
	runner  Runner
	locks   cron.LockFactory
	logg    *logger.Logger
	metrics *metrics.ResetMetrics
	batchID string
}

func NewDriver(p DriverParams) (*Driver, error) {
	if p.Runner == nil {
		return nil, fmt.Errorf("runner required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Driver{
		runner:  p.Runner,
		locks:   p.Locks,
		logg:    p.Logger,
		metrics: p.Metrics,
		batchID: p.BatchID,
	}, nil
}

// ProductResult is the result of one product of a batch.
type ProductResult struct {
	ProductID int64
	Outcome   *Outcome
	Err       error
}

// BatchResult counts products by how their run ended. Degraded products are
// also counted as completed.
type BatchResult struct {
	BatchID   string
	Completed int
	Skipped   int
	Degraded  int
	Failed    int
	Results   []ProductResult
}

// ExitCode maps the batch to the process exit status.
func (b BatchResult) ExitCode() int {
	if b.Failed > 0 {
		return ExitProductFailed
	}
	return ExitOK
}

// RunBatch resets productIDs in input order. Cancelling ctx stops the batch
// before the next product; the product in flight is finished first.
func (d *Driver) RunBatch(ctx context.Context, productIDs []int64) BatchResult {
	result := BatchResult{BatchID: d.batchID, Results: make([]ProductResult, 0, len(productIDs))}
	if d.batchID != "" {
		ctx = d.logg.WithField(ctx, "batch_id", d.batchID)
	}
	d.logg.Info(d.logg.WithField(ctx, "products", len(productIDs)), "reset batch starting")

	for _, productID := range productIDs {
		pctx := d.logg.WithProductID(ctx, productID)
		var (
			out *Outcome
			err error
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			// A started product always runs to the end. Stopping between a
			// delete and its recreate would lose variants.
			out, err = d.runOne(context.WithoutCancel(pctx), productID)
		}
		result.Results = append(result.Results, ProductResult{ProductID: productID, Outcome: out, Err: err})

		switch {
		case err != nil:
			result.Failed++
			d.metrics.IncProduct(metrics.OutcomeFailed)
			d.logg.Error(pctx, "product failed", err)
		case out != nil && out.Status == enums.RunStatusSkipped:
			result.Skipped++
			d.metrics.IncProduct(metrics.OutcomeSkipped)
		default:
			result.Completed++
			if out.Degraded() {
				result.Degraded++
			}
			d.metrics.IncProduct(metrics.OutcomeCompleted)
		}
	}

	summary := d.logg.WithFields(ctx, map[string]any{
		"completed": result.Completed,
		"skipped":   result.Skipped,
		"degraded":  result.Degraded,
		"failed":    result.Failed,
	})
	if result.Failed > 0 || result.Degraded > 0 {
		d.logg.Warn(summary, "reset batch finished with problems")
	} else {
		d.logg.Info(summary, "reset batch finished")
	}
	return result
}

func (d *Driver) runOne(ctx context.Context, productID int64) (out *Outcome, err error) {
	if d.locks != nil {
		lock := d.locks(productID)
		ok, lockErr := lock.Acquire(ctx)
		if lockErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lockErr, "acquire product lock")
		}
		if !ok {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrProductLocked, fmt.Sprintf("product %d", productID))
		}
		defer func() {
			if relErr := lock.Release(ctx); relErr != nil {
				d.logg.Error(ctx, "failed to release product lock", relErr)
			}
		}()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("reset panicked: %v", rec))
		}
	}()
	return d.runner.Run(ctx, productID)
}
