// ABOUTME: Snowflake identifier type encoded as a decimal string on the wire
// ABOUTME: Provides parsing, mention helpers, and creation-time extraction

package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// discordEpoch is the first millisecond of 2015, the snowflake time origin.
const discordEpoch = 1420070400000

// Snowflake is a 64-bit unique identifier.
type Snowflake uint64

// ParseSnowflake parses a decimal snowflake string.
func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

// String returns the decimal form.
func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// Time returns the creation time encoded in the snowflake.
func (s Snowflake) Time() time.Time {
	ms := int64(uint64(s)>>22) + discordEpoch
	return time.UnixMilli(ms).UTC()
}

// MentionUser renders a user mention.
func (s Snowflake) MentionUser() string { return "<@" + s.String() + ">" }

// MentionRole renders a role mention.
func (s Snowflake) MentionRole() string { return "<@&" + s.String() + ">" }

// MentionChannel renders a channel mention.
func (s Snowflake) MentionChannel() string { return "<#" + s.String() + ">" }

// MarshalJSON encodes the snowflake as a JSON string.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON accepts both string and bare numeric encodings.
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		v, err := ParseSnowflake(str)
		if err != nil {
			return err
		}
		*s = v
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing snowflake %s: %w", data, err)
	}
	*s = Snowflake(v)
	return nil
}
