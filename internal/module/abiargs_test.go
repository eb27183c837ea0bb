package module

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func abiType(t *testing.T, name string) abi.Type {
	t.Helper()
	typ, err := abi.NewType(name, "", nil)
	require.NoError(t, err)
	return typ
}

func TestConvertValue(t *testing.T) {
	t.Run("Should convert numbers from YAML and JSON", func(t *testing.T) {
		value, err := ConvertValue(abiType(t, "uint256"), 42)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(42), value)

		value, err = ConvertValue(abiType(t, "uint256"), "0x10")
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(16), value)

		value, err = ConvertValue(abiType(t, "uint8"), json.Number("7"))
		require.NoError(t, err)
		assert.Equal(t, uint8(7), value)

		value, err = ConvertValue(abiType(t, "int64"), float64(-3))
		require.NoError(t, err)
		assert.Equal(t, int64(-3), value)
	})

	t.Run("Should reject out of range integers", func(t *testing.T) {
		_, err := ConvertValue(abiType(t, "uint8"), 256)
		assert.Error(t, err)

		_, err = ConvertValue(abiType(t, "uint256"), -1)
		assert.Error(t, err)

		_, err = ConvertValue(abiType(t, "int8"), 128)
		assert.Error(t, err)

		value, err := ConvertValue(abiType(t, "int8"), -128)
		require.NoError(t, err)
		assert.Equal(t, int8(-128), value)
	})

	t.Run("Should convert addresses, bools and bytes", func(t *testing.T) {
		value, err := ConvertValue(abiType(t, "address"), "0x00000000000000000000000000000000000000aa")
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress("0xaa"), value)

		value, err = ConvertValue(abiType(t, "bool"), "true")
		require.NoError(t, err)
		assert.Equal(t, true, value)

		value, err = ConvertValue(abiType(t, "bytes"), "0x0102")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, value)

		value, err = ConvertValue(abiType(t, "bytes4"), "0x0102")
		require.NoError(t, err)
		assert.Equal(t, [4]byte{1, 2, 0, 0}, value)
	})

	t.Run("Should convert lists element by element", func(t *testing.T) {
		value, err := ConvertValue(abiType(t, "uint256[]"), []any{1, "2"})
		require.NoError(t, err)
		assert.Equal(t, []*big.Int{big.NewInt(1), big.NewInt(2)}, value)

		value, err = ConvertValue(abiType(t, "address[2]"), []any{"0x00000000000000000000000000000000000000aa", "0x00000000000000000000000000000000000000bb"})
		require.NoError(t, err)
		assert.Equal(t, [2]common.Address{common.HexToAddress("0xaa"), common.HexToAddress("0xbb")}, value)

		_, err = ConvertValue(abiType(t, "address[2]"), []any{"0x00000000000000000000000000000000000000aa"})
		assert.Error(t, err)
	})

	t.Run("Should reject mismatched kinds", func(t *testing.T) {
		_, err := ConvertValue(abiType(t, "address"), "not-an-address")
		assert.Error(t, err)

		_, err = ConvertValue(abiType(t, "string"), 5)
		assert.Error(t, err)
	})
}

func TestConvertArgs(t *testing.T) {
	t.Run("Should fail on arity mismatch", func(t *testing.T) {
		inputs := abi.Arguments{{Name: "a", Type: abiType(t, "uint256")}}

		_, err := ConvertArgs(inputs, nil)
		assert.ErrorIs(t, err, ErrArgumentMismatch)
	})
}
