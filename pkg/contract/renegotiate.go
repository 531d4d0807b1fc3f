package contract

import (
	"github.com/google/uuid"

	"github.com/covenant-labs/covenant/core/pkg/ledger"
)

// Renegotiate replaces this contract with a successor carrying a new budget.
// Budgets are never mutated in place: the current contract is cancelled (if
// still active), and a new DRAFTED contract is returned with a bumped minor
// version and the accumulated usage as its starting offset. The caller
// activates the successor and re-subscribes its observers.
func (c *Contract) Renegotiate(budget []ledger.Dimension, opts ...Option) (*Contract, error) {
	if c.State() == StateActive {
		if err := c.Cancel("renegotiated"); err != nil {
			return nil, err
		}
	}

	version, err := nextVersion(c.spec.Version)
	if err != nil {
		return nil, err
	}

	next := c.spec
	next.ID = uuid.New().String()
	next.Version = version
	next.Budget = budget

	opts = append([]Option{WithClock(c.clock), WithLogger(c.logger), WithSeedUsage(c.ledger.Usage())}, opts...)
	return New(next, opts...)
}
