package module

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ConvertArgs converts loosely typed values (as decoded from YAML or JSON) to
// the Go types the ABI packer expects for inputs.
func ConvertArgs(inputs abi.Arguments, args []any) ([]any, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: expected %d arguments, got %d", ErrArgumentMismatch, len(inputs), len(args))
	}

	converted := make([]any, len(args))
	for i, input := range inputs {
		value, err := ConvertValue(input.Type, args[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("%w: argument %s: %w", ErrArgumentMismatch, name, err)
		}
		converted[i] = value
	}
	return converted, nil
}

// ConvertValue converts a single value to the Go representation of t.
func ConvertValue(t abi.Type, value any) (any, error) {
	target := t.GetType()
	if value != nil && reflect.TypeOf(value) == target {
		return value, nil
	}

	switch t.T {
	case abi.IntTy, abi.UintTy:
		return convertInteger(t, target, value)
	case abi.BoolTy:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch v {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
	case abi.StringTy:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case abi.AddressTy:
		if v, ok := value.(string); ok && common.IsHexAddress(v) {
			return common.HexToAddress(v), nil
		}
	case abi.BytesTy:
		switch v := value.(type) {
		case string:
			return hexutil.Decode(v)
		case []byte:
			return v, nil
		}
	case abi.FixedBytesTy:
		return convertFixedBytes(t, target, value)
	case abi.SliceTy, abi.ArrayTy:
		return convertList(t, target, value)
	default:
		return nil, fmt.Errorf("unsupported ABI type %s", t.String())
	}

	return nil, fmt.Errorf("cannot use %v (%T) as %s", value, value, t.String())
}

func convertInteger(t abi.Type, target reflect.Type, value any) (any, error) {
	n, err := toBigInt(value)
	if err != nil {
		return nil, err
	}
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s for %s", n, t.String())
	}
	if !fitsInteger(t, n) {
		return nil, fmt.Errorf("value %s overflows %s", n, t.String())
	}
	if t.Size > 64 {
		return n, nil
	}

	out := reflect.New(target).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out.Interface(), nil
}

func fitsInteger(t abi.Type, n *big.Int) bool {
	if t.T == abi.UintTy {
		return n.BitLen() <= t.Size
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Sign() < 0 {
		return new(big.Int).Neg(n).Cmp(limit) <= 0
	}
	return n.Cmp(limit) < 0
}

func convertFixedBytes(t abi.Type, target reflect.Type, value any) (any, error) {
	var raw []byte
	switch v := value.(type) {
	case string:
		decoded, err := hexutil.Decode(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", t.String(), err)
		}
		raw = decoded
	case []byte:
		raw = v
	case common.Hash:
		raw = v.Bytes()
	default:
		return nil, fmt.Errorf("cannot use %v (%T) as %s", value, value, t.String())
	}
	if len(raw) > t.Size {
		return nil, fmt.Errorf("%d bytes do not fit %s", len(raw), t.String())
	}

	out := reflect.New(target).Elem()
	reflect.Copy(out, reflect.ValueOf(raw))
	return out.Interface(), nil
}

func convertList(t abi.Type, target reflect.Type, value any) (any, error) {
	items := reflect.ValueOf(value)
	if value == nil || (items.Kind() != reflect.Slice && items.Kind() != reflect.Array) {
		return nil, fmt.Errorf("cannot use %v (%T) as %s", value, value, t.String())
	}

	var out reflect.Value
	if t.T == abi.ArrayTy {
		if items.Len() != t.Size {
			return nil, fmt.Errorf("expected %d elements for %s, got %d", t.Size, t.String(), items.Len())
		}
		out = reflect.New(target).Elem()
	} else {
		out = reflect.MakeSlice(target, items.Len(), items.Len())
	}

	for i := 0; i < items.Len(); i++ {
		element, err := ConvertValue(*t.Elem, items.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(element))
	}
	return out.Interface(), nil
}

func toBigInt(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-integer value %v", v)
		}
		n, _ := big.NewFloat(v).Int(nil)
		return n, nil
	case json.Number:
		return parseBigInt(v.String())
	case string:
		return parseBigInt(v)
	default:
		return nil, fmt.Errorf("cannot use %v (%T) as integer", value, value)
	}
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer '%s'", s)
	}
	return n, nil
}
