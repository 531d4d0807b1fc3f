package audit

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gowebpki/jcs"

	"github.com/covenant-labs/covenant/core/pkg/ledger"
)

// ErrEmptyContractID is returned when a pack is built without a contract id.
var ErrEmptyContractID = errors.New("audit: contract_id must not be empty")

// Pack is the exported compliance bundle: the violation list, final usage
// snapshot, and the full trail. Every field name here is a stability
// contract with external tooling; renaming a field breaks replay.
//
// Pack deliberately carries no generated-at stamp: exporting twice without
// an intervening mutation must yield byte-identical output.
type Pack struct {
	ContractID    string             `json:"contract_id"`
	ContractName  string             `json:"contract_name,omitempty"`
	SpecVersion   string             `json:"spec_version,omitempty"`
	FinalState    string             `json:"final_state"`
	HasViolations bool               `json:"has_violations"`
	Usage         ledger.Usage       `json:"usage"`
	Violations    []ledger.Violation `json:"violations"`
	Entries       []Entry            `json:"entries"`
	ChainHead     string             `json:"chain_head"`
}

// BuildPack assembles a pack from a trail and the owning contract's final
// snapshot data.
func BuildPack(t *Trail, name, version, state string, usage ledger.Usage, violations []ledger.Violation) (Pack, error) {
	if t == nil || t.ContractID() == "" {
		return Pack{}, ErrEmptyContractID
	}
	if violations == nil {
		violations = []ledger.Violation{}
	}
	return Pack{
		ContractID:    t.ContractID(),
		ContractName:  name,
		SpecVersion:   version,
		FinalState:    state,
		HasViolations: len(violations) > 0,
		Usage:         usage,
		Violations:    violations,
		Entries:       t.Entries(),
		ChainHead:     t.Head(),
	}, nil
}

// MarshalCanonical returns the RFC 8785 canonical JSON form of the pack.
// Deterministic: equal packs always produce equal bytes.
func (p Pack) MarshalCanonical() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to marshal pack: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalization failed: %w", err)
	}
	return canonical, nil
}

// Checksum returns the sha256 hex digest of the canonical form.
func (p Pack) Checksum() (string, error) {
	b, err := p.MarshalCanonical()
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// WriteZip writes the evidence bundle: pack.json (canonical) plus a
// manifest.json carrying the checksum and entry count.
func (p Pack) WriteZip(w io.Writer) error {
	canonical, err := p.MarshalCanonical()
	if err != nil {
		return err
	}
	h := sha256.Sum256(canonical)

	manifest := map[string]any{
		"contract_id": p.ContractID,
		"final_state": p.FinalState,
		"entry_count": len(p.Entries),
		"chain_head":  p.ChainHead,
		"checksum":    hex.EncodeToString(h[:]),
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	zw := zip.NewWriter(w)
	f, err := zw.Create("pack.json")
	if err != nil {
		return err
	}
	if _, err := f.Write(canonical); err != nil {
		return err
	}
	f, err = zw.Create("manifest.json")
	if err != nil {
		return err
	}
	if _, err := f.Write(manifestJSON); err != nil {
		return err
	}
	return zw.Close()
}

// ZipBytes renders the bundle into memory and returns it with its checksum.
func (p Pack) ZipBytes() ([]byte, string, error) {
	checksum, err := p.Checksum()
	if err != nil {
		return nil, "", err
	}
	buf := new(bytes.Buffer)
	if err := p.WriteZip(buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), checksum, nil
}
