package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mquinn/callboard/pkg/blackboard"
)

// BudgetChecker gates task creation on the project's remaining budget and
// folds actual spend back into the blackboard.
type BudgetChecker struct {
	client *blackboard.Client
}

// NewBudgetChecker creates a budget checker backed by the given client.
func NewBudgetChecker(client *blackboard.Client) *BudgetChecker {
	return &BudgetChecker{client: client}
}

// budgetDocName is the record sub-document holding the project budget.
const budgetDocName = "budget"

// CheckBudget reports whether the project can afford the estimated cost.
// A project without a record or budget document is unconstrained. Failing the
// check is an expected outcome, not an error: the caller skips the task.
func (b *BudgetChecker) CheckBudget(ctx context.Context, projectID string, estimatedCost float64) (bool, error) {
	doc, _, err := b.budgetDoc(ctx, projectID)
	if blackboard.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if doc == nil {
		return true, nil
	}

	if doc.Remaining() < estimatedCost {
		log.Printf("[Budget] Project %s cannot afford %.2f %s (remaining: %.2f)",
			projectID, estimatedCost, doc.Currency, doc.Remaining())
		return false, nil
	}

	return true, nil
}

// ApplyCost adds actual spend to the project's budget document and publishes a
// budget.updated event. Version conflicts from concurrent writers are retried.
func (b *BudgetChecker) ApplyCost(ctx context.Context, projectID, actor string, actualCost float64) error {
	if actualCost <= 0 {
		return nil
	}

	scopeID := blackboard.ProjectScope(projectID)

	for attempt := 0; attempt < 3; attempt++ {
		doc, _, err := b.budgetDoc(ctx, projectID)
		if blackboard.IsNotFound(err) {
			// Nothing to charge against; spend on untracked projects is dropped.
			return nil
		}
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}

		doc.Spent += actualCost
		value, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to serialize budget for %s: %w", projectID, err)
		}

		_, err = b.client.UpdateRecordField(ctx, scopeID, budgetDocName, value,
			blackboard.UpdateOptions{Actor: actor})
		if blackboard.IsVersionConflict(err) {
			continue
		}
		if err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]interface{}{
			"total":     doc.Total,
			"spent":     doc.Spent,
			"remaining": doc.Remaining(),
			"currency":  doc.Currency,
		})
		if err != nil {
			return fmt.Errorf("failed to serialize budget payload for %s: %w", projectID, err)
		}

		_, err = b.client.PublishEvent(ctx, &blackboard.Event{
			ProjectID: projectID,
			Type:      blackboard.EventBudgetUpdated,
			Actor:     actor,
			Payload:   payload,
		})
		return err
	}

	return fmt.Errorf("%w: budget update for %s kept conflicting", blackboard.ErrVersionConflict, projectID)
}

// EnsureBudget writes a default budget document for a new project if the
// record has none. Existing budgets are never overwritten.
func (b *BudgetChecker) EnsureBudget(ctx context.Context, projectID, actor string, total float64, currency string) error {
	scopeID := blackboard.ProjectScope(projectID)

	doc := &blackboard.BudgetDoc{Total: total, Currency: currency}
	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize default budget: %w", err)
	}

	_, err = b.client.CreateRecord(ctx, scopeID, actor, map[string]json.RawMessage{
		budgetDocName: value,
	})
	if err == nil {
		return nil
	}
	if !blackboard.IsAlreadyExists(err) {
		return err
	}

	// Record exists; add the budget document only if missing.
	existing, _, err := b.budgetDoc(ctx, projectID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	_, err = b.client.UpdateRecordField(ctx, scopeID, budgetDocName, value,
		blackboard.UpdateOptions{Actor: actor})
	return err
}

// budgetDoc reads and decodes the project's budget document.
// Returns (nil, version, nil) when the record exists without a budget.
func (b *BudgetChecker) budgetDoc(ctx context.Context, projectID string) (*blackboard.BudgetDoc, int64, error) {
	record, err := b.client.GetRecord(ctx, blackboard.ProjectScope(projectID))
	if err != nil {
		return nil, 0, err
	}

	raw, ok := record.Docs[budgetDocName]
	if !ok {
		return nil, record.Version, nil
	}

	var doc blackboard.BudgetDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, 0, fmt.Errorf("corrupt budget document for %s: %w", projectID, err)
	}

	return &doc, record.Version, nil
}
