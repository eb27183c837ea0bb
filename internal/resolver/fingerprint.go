package resolver

import (
	"encoding/json"
	"fmt"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/module"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fingerprint identifies the deployed content of a binding: its bytecode
// digest and constructor arguments. References contribute the referenced
// name, never an address.
func Fingerprint(artifactHash string, args []ledger.ArgRecord) (common.Hash, error) {
	compacted := make([]ledger.ArgRecord, len(args))
	for i, arg := range args {
		compacted[i] = arg
		compacted[i].Value = ledger.CompactJSON(arg.Value)
	}

	encoded, err := json.Marshal(compacted)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode arguments: %w", err)
	}

	return crypto.Keccak256Hash(common.FromHex(artifactHash), encoded), nil
}

// BindingFingerprint fingerprints a declared binding.
func BindingFingerprint(b *module.Binding) (common.Hash, error) {
	args, err := b.ArgRecords()
	if err != nil {
		return common.Hash{}, err
	}
	return Fingerprint(b.Artifact.Hash().Hex(), args)
}

// RecordFingerprint fingerprints a committed binding record.
func RecordFingerprint(r *ledger.Record) (common.Hash, error) {
	return Fingerprint(r.ArtifactHash, r.Args)
}
