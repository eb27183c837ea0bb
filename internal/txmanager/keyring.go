package txmanager

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrUnknownActor = errors.New("unknown actor")

// Keyring holds the signing keys of every actor. The first key is the default actor.
type Keyring struct {
	keys  map[common.Address]*ecdsa.PrivateKey
	order []common.Address
}

func NewKeyring(hexKeys []string) (*Keyring, error) {
	if len(hexKeys) == 0 {
		return nil, errors.New("at least one private key is required")
	}

	k := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys))}
	for i, hexKey := range hexKeys {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %d: %w", i, err)
		}
		address := crypto.PubkeyToAddress(privateKey.PublicKey)
		if _, ok := k.keys[address]; ok {
			continue
		}
		k.keys[address] = privateKey
		k.order = append(k.order, address)
	}

	return k, nil
}

func (k *Keyring) Default() common.Address {
	return k.order[0]
}

func (k *Keyring) Addresses() []common.Address {
	return append([]common.Address(nil), k.order...)
}

// Resolve maps an actor reference to a known address. An empty actor is the default one.
func (k *Keyring) Resolve(actor string) (common.Address, error) {
	if actor == "" {
		return k.Default(), nil
	}
	if !common.IsHexAddress(actor) {
		return common.Address{}, fmt.Errorf("%w: '%s' is not an address", ErrUnknownActor, actor)
	}
	address := common.HexToAddress(actor)
	if _, ok := k.keys[address]; !ok {
		return common.Address{}, fmt.Errorf("%w: no key for %s", ErrUnknownActor, address.Hex())
	}
	return address, nil
}

func (k *Keyring) key(address common.Address) (*ecdsa.PrivateKey, error) {
	privateKey, ok := k.keys[address]
	if !ok {
		return nil, fmt.Errorf("%w: no key for %s", ErrUnknownActor, address.Hex())
	}
	return privateKey, nil
}
