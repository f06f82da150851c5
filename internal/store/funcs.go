package store

import (
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"math"

	"modernc.org/sqlite"
)

const driverName = "sqlite"

// SQL functions evaluated inside the database so that similarity ordering
// and decay sharding never require pulling rows into Go.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("cosine_distance", 2, sqlCosineDistance)
	sqlite.MustRegisterDeterministicScalarFunction("record_partition", 2, sqlRecordPartition)
}

// sqlCosineDistance returns 1 - cosine similarity of two encoded embeddings,
// or NULL when either side is missing or the dimensions differ.
func sqlCosineDistance(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, ok := args[0].([]byte)
	if !ok || len(a) == 0 {
		return nil, nil
	}
	b, ok := args[1].([]byte)
	if !ok || len(b) == 0 || len(a) != len(b) {
		return nil, nil
	}
	sim, ok := cosineEncoded(a, b)
	if !ok {
		return nil, nil
	}
	return 1 - sim, nil
}

// sqlRecordPartition maps a record id onto one of n decay partitions.
func sqlRecordPartition(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var id string
	switch v := args[0].(type) {
	case string:
		id = v
	case []byte:
		id = string(v)
	default:
		return nil, fmt.Errorf("record_partition: unexpected id type %T", args[0])
	}
	n, ok := args[1].(int64)
	if !ok || n <= 0 {
		return nil, fmt.Errorf("record_partition: partition count must be a positive integer")
	}
	return int64(Partition(id, int(n))), nil
}

// Partition returns the decay partition for id out of n partitions.
func Partition(id string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}

// cosineEncoded computes cosine similarity directly over two encoded
// float64 blobs of equal length.
func cosineEncoded(a, b []byte) (float64, bool) {
	n := len(a) / 8
	if n == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		x := decodeAt(a, i)
		y := decodeAt(b, i)
		dot += x * y
		normA += x * x
		normB += y * y
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, false
	}
	return dot / denom, true
}
