package reconcile

import "github.com/Strob0t/ledgersync/internal/domain/ledger"

// BlockUpdate replaces the content of a persisted block.
type BlockUpdate struct {
	ExistingID string
	Block      ledger.Block
}

// BlockPlan is the set of block mutations that turns an entry's existing
// content into the desired content.
type BlockPlan struct {
	Update []BlockUpdate
	Append []ledger.Block
	Delete []string
}

// Empty reports whether the plan has nothing to do.
func (p BlockPlan) Empty() bool {
	return len(p.Update) == 0 && len(p.Append) == 0 && len(p.Delete) == 0
}

// PlanBlocks diffs desired against existing by position. The first
// min(len) positions are updated in place, surplus desired blocks are
// appended in order and surplus existing blocks are deleted. Block contents
// are never compared.
func PlanBlocks(desired, existing []ledger.Block) BlockPlan {
	overlap := min(len(desired), len(existing))

	var plan BlockPlan
	for i := range overlap {
		plan.Update = append(plan.Update, BlockUpdate{ExistingID: existing[i].ID, Block: desired[i]})
	}
	for _, b := range desired[overlap:] {
		plan.Append = append(plan.Append, b)
	}
	for _, b := range existing[overlap:] {
		plan.Delete = append(plan.Delete, b.ID)
	}
	return plan
}
