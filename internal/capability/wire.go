package capability

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/arcwell-foundry/aria/pkg/errors"
)

// Wire field names
const (
	fieldTokenID        = "token_id"
	fieldDelegatee      = "delegatee"
	fieldGoalID         = "goal_id"
	fieldAllowedActions = "allowed_actions"
	fieldDeniedActions  = "denied_actions"
	fieldDataScope      = "data_scope"
	fieldTimeLimit      = "time_limit_seconds"
	fieldCreatedAt      = "created_at"
)

// ToMap returns the wire form of the token. created_at is an RFC 3339
// timestamp with nanoseconds.
func (t *Token) ToMap() map[string]interface{} {
	return map[string]interface{}{
		fieldTokenID:        t.tokenID,
		fieldDelegatee:      t.delegatee,
		fieldGoalID:         t.goalID,
		fieldAllowedActions: copyStrings(t.allowedActions),
		fieldDeniedActions:  copyStrings(t.deniedActions),
		fieldDataScope:      copyScope(t.dataScope),
		fieldTimeLimit:      t.timeLimitSeconds,
		fieldCreatedAt:      t.createdAt.Format(time.RFC3339Nano),
	}
}

// FromMap rebuilds a token from its wire form. It accepts both the typed
// values produced by ToMap and the generic values produced by decoding JSON.
func FromMap(m map[string]interface{}) (*Token, error) {
	tokenID, err := stringField(m, fieldTokenID)
	if err != nil {
		return nil, err
	}
	delegatee, err := stringField(m, fieldDelegatee)
	if err != nil {
		return nil, err
	}
	goalID, err := stringField(m, fieldGoalID)
	if err != nil {
		return nil, err
	}
	allowed, err := stringSlice(m[fieldAllowedActions], fieldAllowedActions)
	if err != nil {
		return nil, err
	}
	denied, err := stringSlice(m[fieldDeniedActions], fieldDeniedActions)
	if err != nil {
		return nil, err
	}
	scope, err := scopeField(m[fieldDataScope])
	if err != nil {
		return nil, err
	}
	limit, err := intField(m[fieldTimeLimit])
	if err != nil {
		return nil, err
	}

	rawCreated, err := stringField(m, fieldCreatedAt)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawCreated)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid %s: %v", fieldCreatedAt, err))
	}

	return &Token{
		tokenID:          tokenID,
		delegatee:        delegatee,
		goalID:           goalID,
		allowedActions:   allowed,
		deniedActions:    denied,
		dataScope:        scope,
		timeLimitSeconds: limit,
		createdAt:        createdAt.UTC(),
	}, nil
}

// MarshalJSON encodes the wire form
func (t *Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.ToMap())
}

// UnmarshalJSON decodes the wire form
func (t *Token) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	decoded, err := FromMap(m)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}

func stringField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.NewValidationError(fmt.Sprintf("missing %s", key))
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(fmt.Sprintf("%s must be a string, got %T", key, v))
	}
	return s, nil
}

func stringSlice(v interface{}, key string) ([]string, error) {
	switch values := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return copyStrings(values), nil
	case []interface{}:
		out := make([]string, 0, len(values))
		for _, item := range values {
			s, ok := item.(string)
			if !ok {
				return nil, errors.NewValidationError(fmt.Sprintf("%s must contain strings, got %T", key, item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("%s must be a list, got %T", key, v))
	}
}

func scopeField(v interface{}) (map[string][]string, error) {
	switch scope := v.(type) {
	case nil:
		return map[string][]string{}, nil
	case map[string][]string:
		return copyScope(scope), nil
	case map[string]interface{}:
		out := make(map[string][]string, len(scope))
		for dataType, ids := range scope {
			list, err := stringSlice(ids, fieldDataScope+"."+dataType)
			if err != nil {
				return nil, err
			}
			out[dataType] = list
		}
		return out, nil
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("%s must be a map, got %T", fieldDataScope, v))
	}
}

func intField(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.NewValidationError(fmt.Sprintf("%s must be a whole number", fieldTimeLimit))
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.NewValidationError(fmt.Sprintf("invalid %s: %v", fieldTimeLimit, err))
		}
		return int(i), nil
	case nil:
		return 0, errors.NewValidationError(fmt.Sprintf("missing %s", fieldTimeLimit))
	default:
		return 0, errors.NewValidationError(fmt.Sprintf("%s must be a number, got %T", fieldTimeLimit, v))
	}
}
