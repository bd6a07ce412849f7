package scheduler

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// Owns reports whether the partition identified by partitionIndex owns the
// binding with the given ID. Ownership is derived from an FNV-1a hash of the
// ID's string form reduced modulo the partition count, so it is stable
// across restarts and identical on every replica running the same
// configuration: each binding has exactly one owner and no binding is
// processed twice.
func Owns(id uuid.UUID, partitionCount, partitionIndex int) bool {
	if partitionCount <= 1 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(id.String()))
	return int(h.Sum32())%partitionCount == partitionIndex
}
