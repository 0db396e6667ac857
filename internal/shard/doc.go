// Package shard maps partition keys onto gateway shards.
//
// The gateway routes every guild to exactly one shard using the high bits of
// the guild's snowflake ID:
//
//	index = (guild_id >> 22) % shard_count
//
// The low 22 bits of a snowflake hold worker/process/increment data; the
// remaining bits are a millisecond timestamp. The shift is part of the
// protocol and must not be swapped for a general-purpose hash.
//
// # Usage
//
//	a, err := shard.For(guildID, 4)
//	if err != nil {
//	    return err // shard.ErrInvalidShardCount
//	}
//	fmt.Println(a.Index, a.Count)
//
// An Assignment marshals to the two-element JSON array the identify payload
// expects: [index, count].
package shard
