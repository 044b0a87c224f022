package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/proof"
)

func verifiedAttestation(t *testing.T, store Store, name string, passed bool) proof.Attestation {
	t.Helper()

	ctx := context.Background()
	prf := proof.New(name, proof.WithWriter(store))

	_, err := prf.Begin(ctx)
	require.NoError(t, err)

	_, err = prf.Measure(ctx, proof.MeasureTestExecution, time.Millisecond)
	require.NoError(t, err)

	attestation, err := prf.Finalize(ctx, map[string]any{"gate_passed": passed})
	require.NoError(t, err)

	return attestation
}

func putJSON(t *testing.T, store Store, key string, v any) {
	t.Helper()

	buf, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), key, buf))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "b.json", []byte(`{}`)))
	require.NoError(t, store.Put(ctx, "a.json", []byte(`{"a":1}`)))
	require.NoError(t, store.Put(ctx, "run-1/c.json", []byte(`[]`)))

	buf, err := store.Get(ctx, "a.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(buf))

	keys, err := store.List(ctx, "*.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, keys)

	nested, err := store.List(ctx, "run-1/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1/c.json"}, nested)

	_, err = store.Get(ctx, "missing.json")
	assert.ErrorIs(t, err, errors.ErrCheckpointNotFound)

	empty := NewFileStore(t.TempDir() + "/never-created")
	keys, err = empty.List(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.Equal(t, DefaultDir, NewFileStore("").Dir)
}

func TestLoadGateResult(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	loader := NewLoader(store)

	_, err := loader.LoadGateResult(ctx, 1)
	assert.ErrorIs(t, err, errors.ErrCheckpointNotFound)

	older := verifiedAttestation(t, store, "compression", false)
	newer := verifiedAttestation(t, store, "compression", true)

	putJSON(t, store, "gate_1_a_hardware_verified.json", older)
	putJSON(t, store, GateResultKey(1, "compression"), newer)

	loaded, err := loader.LoadGateResult(ctx, 1)
	require.NoError(t, err)

	passed, ok := loaded.Passed()
	assert.True(t, ok)
	assert.True(t, passed, "the lexicographically largest key wins")
	assert.Equal(t, proof.AuthenticityVerified, loaded.Authentic())

	require.NoError(t, store.Put(ctx, GateResultKey(2, "wave_propagation"), []byte("{not json")))
	_, err = loader.LoadGateResult(ctx, 2)
	assert.ErrorIs(t, err, errors.ErrIntegrity)

	putJSON(t, store, GateResultKey(3, "glider_emergence"), map[string]any{"hello": "world"})
	_, err = loader.LoadGateResult(ctx, 3)
	assert.ErrorIs(t, err, errors.ErrIntegrity)

	assert.Equal(t, []int{1}, loader.AvailableGates(ctx))

	_, err = loader.LoadGates(ctx, []int{1, 4})
	assert.ErrorIs(t, err, errors.ErrCheckpointNotFound)

	gates, err := loader.LoadGates(ctx, []int{1})
	require.NoError(t, err)
	assert.Len(t, gates, 1)
}

func TestLoadProofChain(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	loader := NewLoader(store)

	_, err := loader.LoadProofChain(ctx, 4)
	assert.ErrorIs(t, err, errors.ErrCheckpointNotFound)

	verifiedAttestation(t, store, "decay", true)
	require.NoError(t, store.Put(ctx, "decay_broken_hardware_execution_x.proof", []byte("garbage")))

	chain, err := loader.LoadProofChain(ctx, 4)
	require.NoError(t, err)
	require.Len(t, chain, 2, "the unreadable artifact is skipped")

	assert.Equal(t, proof.PhaseExecutionDone, chain[0].Phase)
	assert.Equal(t, proof.PhaseExecutionStart, chain[1].Phase)
	assert.Equal(t, chain[0].ExecutionID, chain[1].ExecutionID)

	_, err = loader.LoadProofChain(ctx, 1)
	assert.ErrorIs(t, err, errors.ErrCheckpointNotFound)
}

func TestVerifyIntegrity(t *testing.T) {
	loader := NewLoader(NewFileStore(t.TempDir()))
	attestation := verifiedAttestation(t, nil, "compression", true)

	assert.True(t, loader.VerifyIntegrity(attestation))

	questionable := attestation
	proofs := *attestation.HardwareProofs
	proofs.Authenticity = proof.AuthenticityQuestionable
	questionable.HardwareProofs = &proofs
	questionable.ProofCompleteness = proof.CompletenessRisk
	assert.True(t, loader.VerifyIntegrity(questionable), "flagged runs remain displayable")

	bogus := attestation
	bogusProofs := *attestation.HardwareProofs
	bogusProofs.Authenticity = "MOCKED"
	bogus.HardwareProofs = &bogusProofs
	assert.False(t, loader.VerifyIntegrity(bogus))

	instant := attestation
	instant.ExecutionDuration = 0
	assert.False(t, loader.VerifyIntegrity(instant))

	now := time.Now()
	fingerprint := proof.NewFingerprint()

	flat := proof.Attestation{
		ExecutionAuthenticity: proof.AuthenticityVerified,
		ProofCompleteness:     proof.CompletenessVerified,
		SystemFingerprint:     &fingerprint,
		ExecutionDuration:     1.5,
		Timestamp:             &now,
	}
	assert.True(t, loader.VerifyIntegrity(flat))

	flat.ExecutionAuthenticity = proof.AuthenticityQuestionable
	assert.False(t, loader.VerifyIntegrity(flat), "the flat layout must be verified")
}

func TestTimestamp(t *testing.T) {
	loader := NewLoader(NewFileStore(t.TempDir()))
	attestation := verifiedAttestation(t, nil, "decay", true)

	ts, ok := loader.Timestamp(attestation)
	require.True(t, ok)
	assert.Equal(t, attestation.HardwareProofs.ExecutionProofs.Authenticity.VerifiedAt, ts)

	proofs := *attestation.HardwareProofs
	proofs.ExecutionProofs.Authenticity = nil
	attestation.HardwareProofs = &proofs

	ts, ok = loader.Timestamp(attestation)
	require.True(t, ok)
	assert.Equal(t, attestation.Metadata.SignedAt, ts)

	fallback := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ts, ok = loader.Timestamp(proof.Attestation{ValidationTimestamp: &fallback})
	require.True(t, ok)
	assert.Equal(t, fallback, ts)

	_, ok = loader.Timestamp(proof.Attestation{})
	assert.False(t, ok)
}

func TestProofPattern(t *testing.T) {
	assert.Equal(t, "*compression*hardware*execution*.proof", proofPattern(1))
	assert.Equal(t, "*gate_9*_hardware_*_execution_*.proof", proofPattern(9))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, GateIDs())
	assert.Equal(t, "gate_4_decay_hardware_verified.json", GateResultKey(4, "decay"))
}

func TestS3Store(t *testing.T) {
	_, err := NewS3Store(S3Config{Bucket: "checkpoints"})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	assert.Equal(t, "gate_1.json", trimPrefix("runs/gate_1.json", "runs"))
	assert.Equal(t, "", trimPrefix("ru", "runs"))

	endpoint := os.Getenv("GRIDSWARM_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("GRIDSWARM_S3_ENDPOINT not set; skipping S3 round trip")
	}

	store, err := NewS3Store(S3Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("GRIDSWARM_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("GRIDSWARM_S3_SECRET_KEY"),
		Bucket:    "gridswarm-test",
		Prefix:    "checkpoints",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.EnsureBucket(ctx))
	require.NoError(t, store.Put(ctx, "gate_1_compression_hardware_verified.json", []byte(`{}`)))

	keys, err := store.List(ctx, "gate_1_*_hardware_verified.json")
	require.NoError(t, err)
	assert.Contains(t, keys, "gate_1_compression_hardware_verified.json")

	buf, err := store.Get(ctx, keys[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(buf))
}
