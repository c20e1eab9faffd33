package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// Reconciler removes duplicate ledger rows. It only deletes rows it has read
// and keeps the earliest row of every external id.
type Reconciler struct {
	ledger  LedgerStore
	metrics *Metrics
}

// Dedupe removes duplicate ledger rows of one user and returns how many were
// deleted.
func (r *Reconciler) Dedupe(ctx context.Context, email string) (int, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return 0, validationError("email is required")
	}

	entries, err := r.ledger.ListLedgerEntriesByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("list ledger entries for %s: %w", email, err)
	}

	seen := make(map[string]struct{}, len(entries))
	var remove []uint
	for _, entry := range entries {
		if _, ok := seen[entry.ExternalID]; ok {
			remove = append(remove, entry.ID)
			continue
		}
		seen[entry.ExternalID] = struct{}{}
	}
	if len(remove) == 0 {
		return 0, nil
	}

	n, err := r.ledger.DeleteLedgerEntries(ctx, remove)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate ledger entries for %s: %w", email, err)
	}
	r.metrics.DuplicatesRemoved(int(n))
	log.Infof("[Billing] removed %d duplicate ledger entries for %s", n, email)
	return int(n), nil
}

// DedupeAll runs Dedupe for every user that owns duplicated external ids.
func (r *Reconciler) DedupeAll(ctx context.Context) (int, error) {
	emails, err := r.ledger.ListEmailsWithDuplicateLedgerEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("list emails with duplicates: %w", err)
	}
	total := 0
	for _, email := range emails {
		n, err := r.Dedupe(ctx, email)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
