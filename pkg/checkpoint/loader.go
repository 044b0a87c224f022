package checkpoint

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/proof"
)

/*
Loader reads verified gate checkpoints and their proof chains. It never
substitutes missing data: a gate without a checkpoint is an error.
*/
type Loader struct {
	store Store
}

func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

func (loader *Loader) Store() Store {
	return loader.store
}

/*
LoadGateResult returns the most recent checkpoint for gate id, picking the
lexicographically largest matching key.
*/
func (loader *Loader) LoadGateResult(ctx context.Context, id int) (proof.Attestation, error) {
	pattern := gateResultPattern(id)

	keys, err := loader.store.List(ctx, pattern)
	if err != nil {
		return proof.Attestation{}, err
	}

	if len(keys) == 0 {
		return proof.Attestation{}, errors.ErrCheckpointNotFound.WithMessagef(
			"no verified checkpoint for gate %d, expected %s", id, pattern,
		)
	}

	key := keys[len(keys)-1]

	buf, err := loader.store.Get(ctx, key)
	if err != nil {
		return proof.Attestation{}, err
	}

	var attestation proof.Attestation

	if err := json.Unmarshal(buf, &attestation); err != nil {
		return proof.Attestation{}, errors.ErrIntegrity.WithMessagef("checkpoint %s is not valid JSON: %v", key, err)
	}

	if !validStructure(attestation) {
		return proof.Attestation{}, errors.ErrIntegrity.WithMessagef("checkpoint %s does not hold verified data", key)
	}

	return attestation, nil
}

/*
LoadProofChain reads every proof artifact of gate id, ordered by phase, then
timestamp, then execution id. Unreadable artifacts are skipped.
*/
func (loader *Loader) LoadProofChain(ctx context.Context, id int) ([]proof.Artifact, error) {
	pattern := proofPattern(id)

	keys, err := loader.store.List(ctx, pattern)
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return nil, errors.ErrCheckpointNotFound.WithMessagef("no proof files for gate %d, expected %s", id, pattern)
	}

	chain := make([]proof.Artifact, 0, len(keys))

	for _, key := range keys {
		buf, err := loader.store.Get(ctx, key)
		if err != nil {
			log.Warn("failed to read proof file", "key", key, "error", err)
			continue
		}

		var artifact proof.Artifact

		if err := json.Unmarshal(buf, &artifact); err != nil {
			log.Warn("failed to decode proof file", "key", key, "error", err)
			continue
		}

		chain = append(chain, artifact)
	}

	if len(chain) == 0 {
		return nil, errors.ErrCheckpointNotFound.WithMessagef("no readable proof files for gate %d", id)
	}

	sort.SliceStable(chain, func(i, j int) bool {
		a, b := chain[i], chain[j]

		if a.Phase != b.Phase {
			return a.Phase < b.Phase
		}

		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}

		return a.ExecutionID < b.ExecutionID
	})

	return chain, nil
}

/*
VerifyIntegrity checks a checkpoint in either layout. The nested layout
also accepts QUESTIONABLE runs so flagged results can still be shown.
*/
func (loader *Loader) VerifyIntegrity(attestation proof.Attestation) bool {
	_, hasTimestamp := loader.Timestamp(attestation)
	fingerprint := attestation.Fingerprint() != nil
	duration := attestation.ExecutionDuration > 0

	if proofs := attestation.HardwareProofs; proofs != nil {
		if proofs.Authenticity != proof.AuthenticityVerified && proofs.Authenticity != proof.AuthenticityQuestionable {
			return false
		}

		completeness := strings.HasPrefix(attestation.ProofCompleteness, "HARDWARE") ||
			attestation.ProofCompleteness == proof.CompletenessRisk

		return completeness && fingerprint && duration && hasTimestamp
	}

	return attestation.ExecutionAuthenticity == proof.AuthenticityVerified &&
		strings.HasPrefix(attestation.ProofCompleteness, "HARDWARE") &&
		fingerprint && duration && hasTimestamp
}

/*
Timestamp picks the first time set, in order: authenticity verification,
signature, final resource measurement, test execution measurement, then the
flat validation_timestamp and timestamp fields.
*/
func (loader *Loader) Timestamp(attestation proof.Attestation) (time.Time, bool) {
	var candidates []time.Time

	if proofs := attestation.HardwareProofs; proofs != nil {
		execution := proofs.ExecutionProofs

		if execution.Authenticity != nil {
			candidates = append(candidates, execution.Authenticity.VerifiedAt)
		}

		if attestation.Metadata != nil {
			candidates = append(candidates, attestation.Metadata.SignedAt)
		}

		if execution.FinalResources != nil {
			candidates = append(candidates, execution.FinalResources.Timestamp)
		}

		if execution.TestExecution != nil {
			candidates = append(candidates, execution.TestExecution.Timestamp)
		}
	} else if attestation.Metadata != nil {
		candidates = append(candidates, attestation.Metadata.SignedAt)
	}

	for _, ts := range []*time.Time{attestation.ValidationTimestamp, attestation.Timestamp} {
		if ts != nil {
			candidates = append(candidates, *ts)
		}
	}

	for _, ts := range candidates {
		if !ts.IsZero() {
			return ts, true
		}
	}

	return time.Time{}, false
}

// AvailableGates lists the known gates that have a loadable checkpoint.
func (loader *Loader) AvailableGates(ctx context.Context) []int {
	var ids []int

	for _, id := range GateIDs() {
		if _, err := loader.LoadGateResult(ctx, id); err == nil {
			ids = append(ids, id)
		}
	}

	return ids
}

// LoadGates loads several gates and fails on the first one that is missing.
func (loader *Loader) LoadGates(ctx context.Context, ids []int) (map[int]proof.Attestation, error) {
	out := make(map[int]proof.Attestation, len(ids))

	for _, id := range ids {
		attestation, err := loader.LoadGateResult(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = attestation
	}

	return out, nil
}

func validStructure(attestation proof.Attestation) bool {
	if attestation.ExecutionAuthenticity == proof.AuthenticityVerified &&
		attestation.SystemFingerprint != nil &&
		attestation.Timestamp != nil {
		return true
	}

	if attestation.HardwareProofs == nil {
		return false
	}

	switch attestation.HardwareProofs.Authenticity {
	case proof.AuthenticityVerified, proof.AuthenticityQuestionable:
		_, ok := attestation.Passed()
		return ok
	}

	return false
}
