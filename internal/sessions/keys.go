// Package sessions persists conversation history per session key.
//
// A session key has the form "agent:surface:peer:id", e.g.
// "default:cli:direct:local" for the local CLI chat or
// "default:serve:direct:ws-1a2b" for a serve client. One JSON file per
// session lives under the sessions directory.
package sessions

import (
	"strings"
)

// Peer kinds for session keys.
const (
	PeerDirect = "direct"
	PeerShared = "shared"
)

// BuildSessionKey assembles a session key from its parts. Empty parts
// collapse to "-" so keys stay parseable.
func BuildSessionKey(agentID, surface, peerKind, peerID string) string {
	part := func(s string) string {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return "-"
		}
		return strings.ReplaceAll(s, ":", "-")
	}
	return part(agentID) + ":" + part(surface) + ":" + part(peerKind) + ":" + part(peerID)
}

// SessionKey is shorthand for a direct session on the given agent with
// an arbitrary suffix.
func SessionKey(agentID, suffix string) string {
	return BuildSessionKey(agentID, "serve", PeerDirect, suffix)
}

// AgentFromKey extracts the agent ID part of a session key.
func AgentFromKey(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
