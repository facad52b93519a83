package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/issuance"
	"github.com/sims-erp/sims-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListByRecord(ctx context.Context, recordID string) ([]ReturnedItem, error)
	ListRecent(ctx context.Context, limit int) ([]ReturnedItem, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator drops cached stock snapshots after a mutation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// Service reconciles returns against disbursed issuances.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache CacheInvalidator
}

// NewService builds Service. Audit and cache may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, cache: cache}
}

// ReturnLine is one (issue item, quantity, condition) tuple.
type ReturnLine struct {
	IssueItemID int64
	Qty         decimal.Decimal
	Condition   Condition
}

// ReturnInput carries one batched return request.
type ReturnInput struct {
	Lines   []ReturnLine
	ActorID int64
}

// ReturnResult reports the outcome of one batch.
type ReturnResult struct {
	Items []ReturnedItem
	// Closed holds the records fully returned by this batch.
	Closed []string
	// PartiallyReturned holds records still carrying outstanding lines.
	PartiallyReturned []string
}

// ReturnItems applies a batch of returns as one atomic unit. Every line is
// validated against its locked state before anything mutates, so a batch
// either lands completely or not at all. Stock is restored line by line and
// each touched issuance has its status recomputed afterwards.
func (s *Service) ReturnItems(ctx context.Context, input ReturnInput) (ReturnResult, error) {
	if len(input.Lines) == 0 {
		return ReturnResult{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if !line.Qty.IsPositive() {
			return ReturnResult{}, &ValidationError{Field: "quantity", Message: "must be greater than zero"}
		}
		if !line.Condition.Valid() {
			return ReturnResult{}, &ValidationError{Field: "condition", Message: "unknown condition"}
		}
	}

	var result ReturnResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Validation pass. Locks every touched line; accumulates the
		// quantity each line would reach so a batch cannot sneak two
		// partial returns past a single-line outstanding check.
		pending := make(map[int64]decimal.Decimal)
		states := make([]LineState, 0, len(input.Lines))
		for _, line := range input.Lines {
			state, err := tx.GetLineForUpdate(ctx, line.IssueItemID)
			if err != nil {
				return err
			}
			switch state.RecordStatus {
			case issuance.StatusIssued, issuance.StatusPartiallyReturned:
			default:
				return ErrRecordNotReturnable
			}
			if state.Category != inventory.CategoryTool || !state.ToolReturnable {
				return ErrNotReturnable
			}
			already := pending[line.IssueItemID]
			outstanding := state.Outstanding().Sub(already)
			if line.Qty.GreaterThan(outstanding) {
				return &OutstandingQuantityExceededError{
					IssueItemID: line.IssueItemID,
					Requested:   line.Qty,
					Outstanding: outstanding,
				}
			}
			pending[line.IssueItemID] = already.Add(line.Qty)
			states = append(states, state)
		}

		// Mutation pass.
		now := time.Now().UTC()
		touched := map[string]bool{}
		for i, line := range input.Lines {
			state := states[i]
			if err := tx.AddReturnedQuantity(ctx, line.IssueItemID, line.Qty); err != nil {
				return err
			}
			seq, err := tx.NextReturnNumber(ctx)
			if err != nil {
				return err
			}
			item := ReturnedItem{
				Number:      fmt.Sprintf("RT%d", seq),
				IssueItemID: line.IssueItemID,
				RecordID:    state.RecordID,
				ItemID:      state.ItemID,
				ItemName:    state.ItemName,
				Quantity:    line.Qty,
				Condition:   line.Condition,
				ReturnedAt:  now,
				ReceivedBy:  input.ActorID,
			}
			if _, err := tx.ApplyDelta(ctx, inventory.DeltaParams{
				ItemID:    state.ItemID,
				Qty:       line.Qty,
				Type:      inventory.MovementReturn,
				Code:      item.Number,
				RefModule: "returns",
				RefID:     state.RecordID,
				Note:      string(line.Condition),
				ActorID:   input.ActorID,
			}); err != nil {
				return err
			}
			if item.ID, err = tx.InsertReturnedItem(ctx, item); err != nil {
				return err
			}
			result.Items = append(result.Items, item)
			touched[state.RecordID] = true
		}

		// Recompute each touched issuance.
		for recordID := range touched {
			lines, err := tx.RecordLines(ctx, recordID)
			if err != nil {
				return err
			}
			fully := true
			for _, state := range lines {
				if state.Outstanding().IsPositive() {
					fully = false
					break
				}
			}
			if fully {
				if err := tx.CloseRecord(ctx, recordID, issuance.StatusReturned, &now); err != nil {
					return err
				}
				result.Closed = append(result.Closed, recordID)
			} else {
				if err := tx.CloseRecord(ctx, recordID, issuance.StatusPartiallyReturned, nil); err != nil {
					return err
				}
				result.PartiallyReturned = append(result.PartiallyReturned, recordID)
			}
		}
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "returns.recorded",
			Entity:   "returns",
			EntityID: result.Items[0].Number,
			Meta: map[string]any{
				"lines":  len(result.Items),
				"closed": result.Closed,
			},
			At: time.Now().UTC(),
		})
	}
	return result, nil
}

// ListByRecord returns all return events against one issuance.
func (s *Service) ListByRecord(ctx context.Context, recordID string) ([]ReturnedItem, error) {
	return s.repo.ListByRecord(ctx, recordID)
}

// ListRecent returns the latest return events.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]ReturnedItem, error) {
	return s.repo.ListRecent(ctx, limit)
}
