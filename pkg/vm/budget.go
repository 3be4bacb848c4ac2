package vm

// DefaultBranchLimit is the number of taken jumps allowed per execution.
const DefaultBranchLimit = 200

// BranchBudget counts taken jumps against a per-execution allowance. It is
// owned by a single instance and reset at the start of every execution.
type BranchBudget struct {
	remaining uint32
	limit     uint32
	consumed  uint32
}

// NewBranchBudget creates a budget with the given allowance.
func NewBranchBudget(limit uint32) *BranchBudget {
	return &BranchBudget{remaining: limit, limit: limit}
}

// Consume takes one branch from the budget.
func (b *BranchBudget) Consume() error {
	if b.remaining == 0 {
		return OutOfBranches
	}
	b.remaining--
	b.consumed++
	return nil
}

// Reset restores the full allowance.
func (b *BranchBudget) Reset() {
	b.remaining = b.limit
	b.consumed = 0
}

// Remaining returns the number of branches still allowed.
func (b *BranchBudget) Remaining() uint32 {
	return b.remaining
}

// Consumed returns the number of branches taken since the last reset.
func (b *BranchBudget) Consumed() uint32 {
	return b.consumed
}

// Limit returns the allowance.
func (b *BranchBudget) Limit() uint32 {
	return b.limit
}
