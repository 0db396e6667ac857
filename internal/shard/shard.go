// ABOUTME: Deterministic shard assignment from a snowflake partition key
// ABOUTME: Encodes assignments as the [index, count] pair used by identify

package shard

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidShardCount is returned when a shard count of zero is requested.
var ErrInvalidShardCount = errors.New("shard count must be at least 1")

// keyShift drops the worker/process/increment bits of a snowflake.
const keyShift = 22

// Assignment is a shard index paired with the total shard count.
type Assignment struct {
	Index uint64
	Count uint64
}

// For returns the shard that owns key when the stream is split into count shards.
func For(key, count uint64) (Assignment, error) {
	if count == 0 {
		return Assignment{}, ErrInvalidShardCount
	}
	return Assignment{Index: (key >> keyShift) % count, Count: count}, nil
}

// Validate reports whether the assignment is internally consistent.
func (a Assignment) Validate() error {
	if a.Count == 0 {
		return ErrInvalidShardCount
	}
	if a.Index >= a.Count {
		return fmt.Errorf("shard index %d out of range for %d shards", a.Index, a.Count)
	}
	return nil
}

// String renders the assignment as "index/count".
func (a Assignment) String() string {
	return fmt.Sprintf("%d/%d", a.Index, a.Count)
}

// MarshalJSON encodes the assignment as [index, count].
func (a Assignment) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint64{a.Index, a.Count})
}

// UnmarshalJSON decodes an [index, count] pair.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	var pair []uint64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding shard pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("shard pair must have 2 elements, got %d", len(pair))
	}
	a.Index, a.Count = pair[0], pair[1]
	return nil
}
