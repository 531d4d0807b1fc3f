package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/covenant-labs/covenant/core/pkg/contract"
	"github.com/covenant-labs/covenant/core/pkg/criteria"
	"github.com/covenant-labs/covenant/core/pkg/ledger"
	"github.com/covenant-labs/covenant/core/pkg/policy"
	"github.com/covenant-labs/covenant/core/pkg/temporal"
)

//go:embed schema/contract_spec.schema.json
var contractSpecSchema []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func specSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://covenant.schemas.local/contract_spec.schema.json"
		if err := c.AddResource(url, bytes.NewReader(contractSpecSchema)); err != nil {
			compileErr = fmt.Errorf("config: schema load failed: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(url)
	})
	return compiledSchema, compileErr
}

// specFile mirrors the YAML contract definition format. Ceilings are
// pointers so an omitted ceiling reads as tracked-but-unbounded rather
// than a zero budget.
type specFile struct {
	Name        string           `yaml:"name"`
	Version     string           `yaml:"version"`
	Description string           `yaml:"description"`
	Policy      string           `yaml:"policy"`
	Budget      []budgetEntry    `yaml:"budget"`
	Temporal    *temporalEntry   `yaml:"temporal"`
	Criteria    []criterionEntry `yaml:"criteria"`
	Metadata    map[string]any   `yaml:"metadata"`
}

type budgetEntry struct {
	Dimension string `yaml:"dimension"`
	Kind      string `yaml:"kind"`
	Ceiling   *int64 `yaml:"ceiling"`
}

type temporalEntry struct {
	Deadline     time.Time `yaml:"deadline"`
	MaxDuration  string    `yaml:"max_duration"`
	Kind         string    `yaml:"kind"`
	QualityDecay float64   `yaml:"quality_decay"`
}

type criterionEntry struct {
	Name       string  `yaml:"name"`
	Expression string  `yaml:"expression"`
	Weight     float64 `yaml:"weight"`
	Required   bool    `yaml:"required"`
}

// LoadSpecFile reads a YAML contract definition, validates it against the
// embedded schema, and converts it to a contract spec.
func LoadSpecFile(path string) (contract.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contract.Spec{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseSpec(data)
}

// ParseSpec validates and converts raw YAML bytes to a contract spec.
func ParseSpec(data []byte) (contract.Spec, error) {
	if err := validateSpec(data); err != nil {
		return contract.Spec{}, err
	}

	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return contract.Spec{}, fmt.Errorf("config: parse spec: %w", err)
	}

	version := f.Version
	if version == "" {
		version = "1.0.0"
	}
	spec := contract.Spec{
		Name:        f.Name,
		Version:     version,
		Description: f.Description,
		Policy:      policy.Kind(f.Policy),
		Metadata:    f.Metadata,
	}

	for _, b := range f.Budget {
		kind := ledger.Aggregation(b.Kind)
		if b.Kind == "" {
			kind = ledger.AggSum
		}
		if b.Ceiling == nil {
			spec.Budget = append(spec.Budget, ledger.Tracked(b.Dimension, kind))
			continue
		}
		spec.Budget = append(spec.Budget, ledger.Dimension{
			Name:    b.Dimension,
			Kind:    kind,
			Ceiling: *b.Ceiling,
			Bounded: true,
		})
	}

	if f.Temporal != nil {
		spec.Temporal = temporal.Bounds{
			Deadline:     f.Temporal.Deadline,
			Kind:         temporal.Kind(f.Temporal.Kind),
			QualityDecay: f.Temporal.QualityDecay,
		}
		if f.Temporal.MaxDuration != "" {
			d, err := time.ParseDuration(f.Temporal.MaxDuration)
			if err != nil {
				return contract.Spec{}, fmt.Errorf("config: invalid max_duration %q: %w", f.Temporal.MaxDuration, err)
			}
			spec.Temporal.MaxDuration = d
		}
	}

	for _, c := range f.Criteria {
		weight := c.Weight
		if weight == 0 {
			weight = 1
		}
		spec.Criteria = append(spec.Criteria, criteria.Criterion{
			Name:       c.Name,
			Expression: c.Expression,
			Weight:     weight,
			Required:   c.Required,
		})
	}

	if err := spec.Validate(); err != nil {
		return contract.Spec{}, err
	}
	return spec, nil
}

// validateSpec checks the YAML document against the embedded JSON Schema.
// The document is round-tripped through JSON so the validator sees the
// types it expects.
func validateSpec(data []byte) error {
	schema, err := specSchema()
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parse spec: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: canonicalize spec: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: canonicalize spec: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("config: spec schema validation failed: %w", err)
	}
	return nil
}
