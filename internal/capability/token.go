// Package capability implements scoped, time-limited permissions for
// delegated workers.
//
// A Token is minted from a role's AgentProfile when work is delegated. The
// worker may only perform actions the token allows, may only touch data ids
// within the token's scope, and only until the token's time limit elapses.
package capability

import (
	"strings"
	"time"
)

const (
	wildcardEverything = "_everything"
	wildcardAnything   = "_anything"
)

// Token is an immutable grant of actions and data scope to one delegate for
// one goal. Accessors return copies.
type Token struct {
	tokenID          string
	delegatee        string
	goalID           string
	allowedActions   []string
	deniedActions    []string
	dataScope        map[string][]string
	timeLimitSeconds int
	createdAt        time.Time
}

// TokenID returns the unique token identifier
func (t *Token) TokenID() string { return t.tokenID }

// Delegatee returns the role string exactly as the caller supplied it
func (t *Token) Delegatee() string { return t.delegatee }

// GoalID returns the goal the token was minted for
func (t *Token) GoalID() string { return t.goalID }

// TimeLimitSeconds returns the validity window in seconds
func (t *Token) TimeLimitSeconds() int { return t.timeLimitSeconds }

// CreatedAt returns the minting time in UTC
func (t *Token) CreatedAt() time.Time { return t.createdAt }

// ExpiresAt returns the first instant at which the token is no longer valid
func (t *Token) ExpiresAt() time.Time {
	return t.createdAt.Add(time.Duration(t.timeLimitSeconds) * time.Second)
}

// AllowedActions returns a copy of the allow-list
func (t *Token) AllowedActions() []string { return copyStrings(t.allowedActions) }

// DeniedActions returns a copy of the deny-list
func (t *Token) DeniedActions() []string { return copyStrings(t.deniedActions) }

// DataScope returns a copy of the data scope
func (t *Token) DataScope() map[string][]string { return copyScope(t.dataScope) }

// CanPerform reports whether action is permitted. A matching deny pattern
// always wins, then a matching allow pattern; anything else is denied.
func (t *Token) CanPerform(action string) bool {
	for _, pattern := range t.deniedActions {
		if MatchAction(pattern, action) {
			return false
		}
	}
	for _, pattern := range t.allowedActions {
		if MatchAction(pattern, action) {
			return true
		}
	}
	return false
}

// IsValid reports whether the token is still within its time limit
func (t *Token) IsValid() bool {
	return t.IsValidAt(time.Now())
}

// IsValidAt reports whether the token is valid at now. The limit itself is
// already expired.
func (t *Token) IsValidAt(now time.Time) bool {
	return now.Sub(t.createdAt) < time.Duration(t.timeLimitSeconds)*time.Second
}

// WithinScope reports whether id of dataType may be accessed. A data type
// with no scope entry is unrestricted.
func (t *Token) WithinScope(dataType, id string) bool {
	ids, ok := t.dataScope[dataType]
	if !ok {
		return true
	}
	for _, allowed := range ids {
		if allowed == id {
			return true
		}
	}
	return false
}

// MatchAction reports whether action matches pattern.
//
// A pattern is an exact action name, or a wildcard "<prefix>_everything" /
// "<prefix>_anything" matching any "<prefix>_<suffix>" with a non-empty
// suffix. A wildcard with an empty prefix matches nothing.
func MatchAction(pattern, action string) bool {
	for _, wildcard := range []string{wildcardEverything, wildcardAnything} {
		if !strings.HasSuffix(pattern, wildcard) {
			continue
		}
		prefix := strings.TrimSuffix(pattern, wildcard)
		if prefix == "" {
			return false
		}
		suffix, ok := strings.CutPrefix(action, prefix+"_")
		return ok && suffix != ""
	}
	return pattern == action
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyScope(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for dataType, ids := range in {
		out[dataType] = copyStrings(ids)
	}
	return out
}
