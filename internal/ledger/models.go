// Package ledger persists governance decisions as an append-only, hash-chained
// sequence of proof artifacts.
package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/canonical"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/gate"
)

// DecisionType classifies the terminal outcome recorded by an artifact.
type DecisionType string

const (
	DecisionPromote  DecisionType = "promote"
	DecisionRollback DecisionType = "rollback"
	DecisionBlock    DecisionType = "block"
)

// GenesisHash anchors the chain: the first artifact's prevHash is all zeroes.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrNotFound is returned when a requested artifact cannot be located.
var ErrNotFound = errors.New("not found")

// ErrCorrupted is returned by Append after chain verification has failed.
// Appending to a broken chain would make every later audit meaningless, so the
// ledger fail-stops until an operator resolves the inconsistency.
var ErrCorrupted = errors.New("ledger chain corrupted, appends refused")

// Decision is the input to Append: everything a proof artifact captures about
// one governance outcome.
type Decision struct {
	DecisionID   string                 `json:"decisionId"`
	Type         DecisionType           `json:"decisionType"`
	ChampionID   string                 `json:"championId"`
	ChallengerID string                 `json:"challengerId"`
	Gate         gate.Result            `json:"gateResult"`
	Reason       string                 `json:"reason"`
	CostIncurred float64                `json:"costIncurred"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ProofArtifact is one immutable ledger record. CurrentHash covers the
// canonical serialization of every field except itself and the signer fields,
// which sign the hash and therefore cannot be part of its preimage.
type ProofArtifact struct {
	SequenceIndex int64                  `json:"sequenceIndex"`
	Timestamp     time.Time              `json:"ts"`
	DecisionID    string                 `json:"decisionId"`
	DecisionType  DecisionType           `json:"decisionType"`
	ChampionID    string                 `json:"championId"`
	ChallengerID  string                 `json:"challengerId"`
	Gate          gate.Result            `json:"gateResult"`
	Reason        string                 `json:"reason"`
	CostIncurred  float64                `json:"costIncurred"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	PrevHash      string                 `json:"prevHash"`
	CurrentHash   string                 `json:"currentHash"`
	Signature     string                 `json:"signature,omitempty"`
	SignerID      string                 `json:"signerId,omitempty"`
}

// hashEnvelope returns the canonicalizable view of the hashed fields.
func (a *ProofArtifact) hashEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"sequenceIndex": a.SequenceIndex,
		"ts":            a.Timestamp.UTC().Format(time.RFC3339Nano),
		"decisionId":    a.DecisionID,
		"decisionType":  string(a.DecisionType),
		"championId":    a.ChampionID,
		"challengerId":  a.ChallengerID,
		"gateResult":    a.Gate,
		"reason":        a.Reason,
		"costIncurred":  a.CostIncurred,
		"metadata":      a.Metadata,
		"prevHash":      a.PrevHash,
	}
}

// ComputeHash canonicalizes the artifact and returns the hex SHA-256 digest.
func (a *ProofArtifact) ComputeHash() (string, error) {
	canon, err := canonical.Marshal(a.hashEnvelope())
	if err != nil {
		return "", err
	}
	return HashHex(canon), nil
}

func isZeroHash(h string) bool {
	return h == GenesisHash || strings.Trim(h, "0") == ""
}
