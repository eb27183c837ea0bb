package module

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/afero"
)

// Artifact is a compiled contract: its ABI and creation bytecode.
type Artifact struct {
	ABI      abi.ABI
	RawABI   string
	Bytecode []byte
}

// NewArtifact parses a JSON ABI and a hex encoded bytecode.
func NewArtifact(rawABI string, bytecodeHex string) (*Artifact, error) {
	parsedABI, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	return &Artifact{
		ABI:      parsedABI,
		RawABI:   rawABI,
		Bytecode: common.FromHex(bytecodeHex),
	}, nil
}

// Hash is the digest of the creation bytecode.
func (a *Artifact) Hash() common.Hash {
	return crypto.Keccak256Hash(a.Bytecode)
}

// LoadArtifacts reads a compiled contracts file of the form
// {"Name": {"abi": [...], "bytecode": "0x..."}}.
func LoadArtifacts(fs afero.Fs, path string) (map[string]*Artifact, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compiled contracts: %w", err)
	}

	return ParseArtifacts(data)
}

// ParseArtifacts parses compiled contracts JSON.
func ParseArtifacts(data []byte) (map[string]*Artifact, error) {
	var result map[string]struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode string          `json:"bytecode"`
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse compiled contracts: %w", err)
	}

	artifacts := make(map[string]*Artifact, len(result))
	for name, contract := range result {
		artifact, err := NewArtifact(string(contract.ABI), contract.Bytecode)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", name, err)
		}
		artifacts[name] = artifact
	}

	return artifacts, nil
}

// DeployData returns the creation bytecode followed by the ABI encoded constructor arguments.
func (a *Artifact) DeployData(args []any) ([]byte, error) {
	converted, err := ConvertArgs(a.ABI.Constructor.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("constructor: %w", err)
	}

	packed, err := a.ABI.Pack("", converted...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack constructor arguments: %w", err)
	}

	data := make([]byte, 0, len(a.Bytecode)+len(packed))
	data = append(data, a.Bytecode...)
	return append(data, packed...), nil
}

// CallData returns the ABI encoded call of method.
func (a *Artifact) CallData(method string, args []any) ([]byte, error) {
	m, ok := a.ABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method '%s' not found in ABI", method)
	}

	converted, err := ConvertArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("method '%s': %w", method, err)
	}

	data, err := a.ABI.Pack(method, converted...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack arguments for '%s': %w", method, err)
	}
	return data, nil
}

// Unpack decodes the return data of method.
func (a *Artifact) Unpack(method string, output []byte) ([]any, error) {
	values, err := a.ABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack output of '%s': %w", method, err)
	}
	return values, nil
}
