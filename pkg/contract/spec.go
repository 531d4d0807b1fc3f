package contract

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/covenant-labs/covenant/core/pkg/criteria"
	"github.com/covenant-labs/covenant/core/pkg/ledger"
	"github.com/covenant-labs/covenant/core/pkg/policy"
	"github.com/covenant-labs/covenant/core/pkg/temporal"
)

var (
	// ErrEmptyName is returned for a spec without a name.
	ErrEmptyName = errors.New("contract: name must not be empty")
	// ErrInvalidVersion is returned when the spec version is not semver.
	ErrInvalidVersion = errors.New("contract: version must be semantic")
)

// Spec is the serializable contract definition: budget, temporal bounds,
// enforcement policy, and success criteria. Field names and their
// required/optional status are stable; persisted specs must replay against
// future versions of this engine.
type Spec struct {
	ID          string               `json:"id,omitempty"`
	Name        string               `json:"name"`
	Version     string               `json:"version,omitempty"`
	Description string               `json:"description,omitempty"`
	Budget      []ledger.Dimension   `json:"budget"`
	Temporal    temporal.Bounds      `json:"temporal,omitempty"`
	Policy      policy.Kind          `json:"policy,omitempty"`
	Criteria    []criteria.Criterion `json:"criteria,omitempty"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

// withDefaults fills in generated/defaulted fields without touching the
// caller's copy.
func (s Spec) withDefaults() Spec {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Version == "" {
		s.Version = "1.0.0"
	}
	if s.Policy == "" {
		s.Policy = policy.KindStrict
	}
	return s
}

// Validate checks the spec after defaults are applied.
func (s Spec) Validate() error {
	if s.Name == "" {
		return ErrEmptyName
	}
	if _, err := semver.NewVersion(s.Version); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, s.Version)
	}
	if _, err := ledger.NewBudget(s.Budget...); err != nil {
		return err
	}
	if _, err := policy.Parse(string(s.Policy)); err != nil {
		return err
	}
	for _, c := range s.Criteria {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// nextVersion bumps the minor version for a renegotiated successor spec.
func nextVersion(version string) (string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	next := v.IncMinor()
	return next.String(), nil
}
