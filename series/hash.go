package series

import (
	"encoding/binary"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-metro"
)

var nullHash = metro.Hash64([]byte(NullKey), 0)

// HashArray returns one hash per row of a group column. Rows that map to
// the same Key always hash to the same value, nulls included.
func HashArray(arr arrow.Array) ([]uint64, error) {
	switch ar := arr.(type) {
	case *array.String:
		return hashStringArray(ar), nil
	case *array.LargeString:
		return hashLargeStringArray(ar), nil
	case *array.Binary:
		return hashBinaryArray(ar), nil
	case *array.Int64:
		return hashIntArray(ar.Len(), ar.IsNull, func(i int) int64 { return ar.Value(i) }), nil
	case *array.Int32:
		return hashIntArray(ar.Len(), ar.IsNull, func(i int) int64 { return int64(ar.Value(i)) }), nil
	case *array.Dictionary:
		return hashDictionaryArray(ar)
	case *array.Null:
		res := make([]uint64, ar.Len())
		for i := range res {
			res[i] = nullHash
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unsupported group array type %T", arr)
	}
}

func hashDictionaryArray(arr *array.Dictionary) ([]uint64, error) {
	res := make([]uint64, arr.Len())
	switch dict := arr.Dictionary().(type) {
	case *array.Binary:
		for i := range res {
			if arr.IsNull(i) {
				res[i] = nullHash
				continue
			}
			res[i] = metro.Hash64(dict.Value(arr.GetValueIndex(i)), 0)
		}
	case *array.String:
		for i := range res {
			if arr.IsNull(i) {
				res[i] = nullHash
				continue
			}
			res[i] = metro.Hash64([]byte(dict.Value(arr.GetValueIndex(i))), 0)
		}
	default:
		return nil, fmt.Errorf("unsupported dictionary type %T", dict)
	}
	return res, nil
}

func hashBinaryArray(arr *array.Binary) []uint64 {
	res := make([]uint64, arr.Len())
	for i := range res {
		if arr.IsNull(i) {
			res[i] = nullHash
			continue
		}
		res[i] = metro.Hash64(arr.Value(i), 0)
	}
	return res
}

func hashStringArray(arr *array.String) []uint64 {
	res := make([]uint64, arr.Len())
	for i := range res {
		if arr.IsNull(i) {
			res[i] = nullHash
			continue
		}
		res[i] = metro.Hash64([]byte(arr.Value(i)), 0)
	}
	return res
}

func hashLargeStringArray(arr *array.LargeString) []uint64 {
	res := make([]uint64, arr.Len())
	for i := range res {
		if arr.IsNull(i) {
			res[i] = nullHash
			continue
		}
		res[i] = metro.Hash64([]byte(arr.Value(i)), 0)
	}
	return res
}

func hashIntArray(n int, isNull func(int) bool, value func(int) int64) []uint64 {
	res := make([]uint64, n)
	var buf [8]byte
	for i := range res {
		if isNull(i) {
			res[i] = nullHash
			continue
		}
		binary.BigEndian.PutUint64(buf[:], uint64(value(i)))
		res[i] = xxhash.Sum64(buf[:])
	}
	return res
}
