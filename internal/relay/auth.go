package relay

import (
	"crypto/subtle"
	"fmt"
	"strings"
)

// Credentials is the immutable secret table built from configuration.
type Credentials struct {
	global string
	rooms  map[string]string
}

// NewCredentials copies rooms so later mutation of the caller's map has no
// effect on the table.
func NewCredentials(global string, rooms map[string]string) Credentials {
	copied := make(map[string]string, len(rooms))
	for room, secret := range rooms {
		copied[room] = secret
	}
	return Credentials{global: global, rooms: copied}
}

// ParseRoomTokens parses "room:secret" pairs separated by commas, semicolons
// or whitespace. The first colon splits room from secret, so secrets may
// contain colons.
func ParseRoomTokens(raw string) (map[string]string, error) {
	rooms := make(map[string]string)
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, field := range fields {
		room, secret, ok := strings.Cut(field, ":")
		if !ok || room == "" || secret == "" {
			return nil, fmt.Errorf("invalid room token entry %q: want room:secret", redactEntry(field))
		}
		rooms[room] = secret
	}
	return rooms, nil
}

// redactEntry keeps the room part of a malformed entry for the error message.
func redactEntry(field string) string {
	if room, _, ok := strings.Cut(field, ":"); ok {
		return room + ":***"
	}
	return field
}

// Empty reports whether no secret of any kind is configured.
func (c Credentials) Empty() bool {
	return c.global == "" && len(c.rooms) == 0
}

// RoomCount returns the number of room-specific secrets.
func (c Credentials) RoomCount() int {
	return len(c.rooms)
}

// HasGlobal reports whether a global fallback secret is configured.
func (c Credentials) HasGlobal() bool {
	return c.global != ""
}

// Gate decides whether a token grants access to a room.
type Gate struct {
	creds     Credentials
	anonymous bool
}

// NewGate builds a Gate. allowAnonymous only takes effect when creds is
// empty; otherwise configured secrets are always enforced.
func NewGate(creds Credentials, allowAnonymous bool) *Gate {
	return &Gate{creds: creds, anonymous: allowAnonymous && creds.Empty()}
}

// Open reports whether the gate accepts every request.
func (g *Gate) Open() bool {
	return g.anonymous
}

// Verify returns true when token grants access to room. A room-specific
// secret takes precedence over the global one.
func (g *Gate) Verify(room, token string) bool {
	if room == "" {
		return false
	}
	if g.anonymous {
		return true
	}
	if token == "" {
		return false
	}
	if secret, ok := g.creds.rooms[room]; ok {
		return secureEqual(secret, token)
	}
	if g.creds.global != "" {
		return secureEqual(g.creds.global, token)
	}
	return false
}

func secureEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
