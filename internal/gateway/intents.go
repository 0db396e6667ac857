// ABOUTME: Intents bitmask declaring which event categories the client receives
// ABOUTME: Named bit constants with union/test operations and config-name parsing

package gateway

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Intents is a bitmask of event categories requested at identify time.
type Intents uint64

const (
	IntentGuilds                      Intents = 1 << 0
	IntentGuildMembers                Intents = 1 << 1
	IntentGuildModeration             Intents = 1 << 2
	IntentGuildExpressions            Intents = 1 << 3
	IntentGuildIntegrations           Intents = 1 << 4
	IntentGuildWebhooks               Intents = 1 << 5
	IntentGuildInvites                Intents = 1 << 6
	IntentGuildVoiceStates            Intents = 1 << 7
	IntentGuildPresences              Intents = 1 << 8
	IntentGuildMessages               Intents = 1 << 9
	IntentGuildMessageReactions       Intents = 1 << 10
	IntentGuildMessageTyping          Intents = 1 << 11
	IntentDirectMessages              Intents = 1 << 12
	IntentDirectMessageReactions      Intents = 1 << 13
	IntentDirectMessageTyping         Intents = 1 << 14
	IntentMessageContent              Intents = 1 << 15
	IntentGuildScheduledEvents        Intents = 1 << 16
	IntentAutoModerationConfiguration Intents = 1 << 20
	IntentAutoModerationExecution     Intents = 1 << 21
	IntentGuildMessagePolls           Intents = 1 << 24
	IntentDirectMessagePolls          Intents = 1 << 25
)

// IntentsPrivileged are the intents that must be enabled for the application
// before the gateway accepts them.
const IntentsPrivileged = IntentGuildMembers | IntentGuildPresences | IntentMessageContent

var intentNames = map[string]Intents{
	"guilds":                        IntentGuilds,
	"guild_members":                 IntentGuildMembers,
	"guild_moderation":              IntentGuildModeration,
	"guild_expressions":             IntentGuildExpressions,
	"guild_integrations":            IntentGuildIntegrations,
	"guild_webhooks":                IntentGuildWebhooks,
	"guild_invites":                 IntentGuildInvites,
	"guild_voice_states":            IntentGuildVoiceStates,
	"guild_presences":               IntentGuildPresences,
	"guild_messages":                IntentGuildMessages,
	"guild_message_reactions":       IntentGuildMessageReactions,
	"guild_message_typing":          IntentGuildMessageTyping,
	"direct_messages":               IntentDirectMessages,
	"direct_message_reactions":      IntentDirectMessageReactions,
	"direct_message_typing":         IntentDirectMessageTyping,
	"message_content":               IntentMessageContent,
	"guild_scheduled_events":        IntentGuildScheduledEvents,
	"auto_moderation_configuration": IntentAutoModerationConfiguration,
	"auto_moderation_execution":     IntentAutoModerationExecution,
	"guild_message_polls":           IntentGuildMessagePolls,
	"direct_message_polls":          IntentDirectMessagePolls,
}

// IntentsAll is every known intent.
var IntentsAll = func() Intents {
	var all Intents
	for _, v := range intentNames {
		all |= v
	}
	return all
}()

// Union returns i with every bit of others set.
func (i Intents) Union(others ...Intents) Intents {
	for _, o := range others {
		i |= o
	}
	return i
}

// Has reports whether every bit of want is set in i.
func (i Intents) Has(want Intents) bool {
	return i&want == want
}

// Without returns i with the bits of other cleared.
func (i Intents) Without(other Intents) Intents {
	return i &^ other
}

// Count returns the number of bits set.
func (i Intents) Count() int {
	return bits.OnesCount64(uint64(i))
}

// Names returns the sorted config names of the known bits set in i.
func (i Intents) Names() []string {
	var names []string
	for name, v := range intentNames {
		if i.Has(v) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// String renders the set as "a|b|c".
func (i Intents) String() string {
	if i == 0 {
		return "none"
	}
	return strings.Join(i.Names(), "|")
}

// ParseIntents combines config names (case-insensitive) into one bitmask.
// The name "all" selects IntentsAll.
func ParseIntents(names []string) (Intents, error) {
	var out Intents
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "all" {
			out |= IntentsAll
			continue
		}
		v, ok := intentNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown intent %q", raw)
		}
		out |= v
	}
	return out, nil
}
