// Package shard spreads hot index partitions across a fixed number of suffixes.
package shard

import (
	"fmt"
	"hash/fnv"
)

// MaxShards is the largest supported shard count; suffixes are two hex digits.
const MaxShards = 256

// Clamp limits numShards to [1, MaxShards].
func Clamp(numShards int) int {
	if numShards < 1 {
		return 1
	}
	if numShards > MaxShards {
		return MaxShards
	}
	return numShards
}

// Partition computes the partition key for id under base.
// With numShards=1 the base is returned unchanged, so an unsharded table
// keeps plain keys. With numShards>1, ids are distributed by fnv hash.
func Partition(base, id string, numShards int) string {
	numShards = Clamp(numShards)
	if numShards == 1 {
		return base
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%s#%02x", base, h.Sum32()%uint32(numShards))
}

// Partitions lists every partition key under base, for fan-out reads.
func Partitions(base string, numShards int) []string {
	numShards = Clamp(numShards)
	if numShards == 1 {
		return []string{base}
	}
	keys := make([]string, numShards)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s#%02x", base, i)
	}
	return keys
}
