package capability

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/arcwell-foundry/aria/pkg/errors"
)

var mintTime = time.Date(2026, 5, 4, 10, 30, 0, 123456789, time.UTC)

func newTestMinter() *Minter {
	return NewMinter(MinterConfig{Now: func() time.Time { return mintTime }}, nil)
}

func TestMatchAction(t *testing.T) {
	tests := []struct {
		pattern string
		action  string
		want    bool
	}{
		{"send_email", "send_email", true},
		{"send_email", "send_emails", false},
		{"read_everything", "read_leads", true},
		{"read_everything", "read_", false},
		{"read_everything", "read", false},
		{"read_everything", "reader_leads", false},
		{"delete_anything", "delete_contact", true},
		{"delete_anything", "delete_contact_notes", true},
		{"_everything", "_everything", false},
		{"_everything", "x_leads", false},
		{"_anything", "_foo", false},
		{"crm_sync_everything", "crm_sync_accounts", true},
		{"ops_everything", "ops_read", true},
		{"ops_everything", "ops_write", true},
		{"ops_everything", "other_read", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchAction(tt.pattern, tt.action))
		})
	}
}

func TestMinter_NormalizesRoleButKeepsDelegatee(t *testing.T) {
	minter := newTestMinter()

	for _, delegatee := range []string{"hunter", "Hunter", "  HUNTER ", "Hunter Pro", "hunter-pro", "hunter_v2"} {
		token, err := minter.Mint(delegatee, "goal-1")
		require.NoError(t, err, delegatee)
		assert.Equal(t, delegatee, token.Delegatee())
		assert.True(t, token.CanPerform("enrich_lead"), delegatee)
	}
}

func TestMinter_UnknownRoleListsKnownRoles(t *testing.T) {
	_, err := newTestMinter().Mint("janitor", "goal-1")

	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeAuthorization))
	for _, role := range []string{"analyst", "hunter", "operator", "scout", "scribe", "strategist"} {
		assert.Contains(t, err.Error(), role)
	}
	assert.Contains(t, err.Error(), "analyst, hunter, operator, scout, scribe, strategist")
}

func TestMinter_Defaults(t *testing.T) {
	token, err := newTestMinter().Mint("analyst", "goal-7")
	require.NoError(t, err)

	assert.NotEmpty(t, token.TokenID())
	assert.Equal(t, "goal-7", token.GoalID())
	assert.Equal(t, DefaultTimeLimit, token.TimeLimitSeconds())
	assert.Equal(t, mintTime, token.CreatedAt())
	assert.Equal(t, mintTime.Add(time.Hour), token.ExpiresAt())
}

func TestMinter_TimeLimitOption(t *testing.T) {
	minter := newTestMinter()

	token, err := minter.Mint("scout", "goal-1", WithTimeLimit(60))
	require.NoError(t, err)
	assert.Equal(t, 60, token.TimeLimitSeconds())

	_, err = minter.Mint("scout", "goal-1", WithTimeLimit(0))
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
}

func TestMinter_AdditionalScopeAppendsWithoutMutatingTemplate(t *testing.T) {
	minter := newTestMinter()
	before, ok := minter.Profile("scribe")
	require.True(t, ok)

	token, err := minter.Mint("scribe", "goal-1", WithAdditionalScope(Scope{
		AllowedActions: []string{"read_calendar"},
		DeniedActions:  []string{"draft_document"},
		DataScope:      map[string][]string{"leads": {"lead-1", "lead-2"}},
	}))
	require.NoError(t, err)

	assert.Equal(t, append(before.AllowedActions, "read_calendar"), token.AllowedActions())
	assert.Equal(t, append(before.DeniedActions, "draft_document"), token.DeniedActions())
	assert.Equal(t, []string{"lead-1", "lead-2"}, token.DataScope()["leads"])
	assert.True(t, token.CanPerform("read_calendar"))
	assert.False(t, token.CanPerform("draft_document"))

	after, _ := minter.Profile("scribe")
	assert.Equal(t, before, after)
	assert.Equal(t, DefaultProfiles()["scribe"], after)

	plain, err := minter.Mint("scribe", "goal-2")
	require.NoError(t, err)
	assert.False(t, plain.CanPerform("read_calendar"))
	assert.True(t, plain.WithinScope("leads", "lead-99"))
}

func TestMinter_AdditionalScopeMergesExistingScopeEntries(t *testing.T) {
	minter := NewMinter(MinterConfig{Profiles: map[string]AgentProfile{
		"operator": {
			AllowedActions: []string{"sync_crm"},
			DataScope:      map[string][]string{"accounts": {"acct-1"}},
		},
	}}, nil)

	token, err := minter.Mint("operator", "goal-1", WithAdditionalScope(Scope{
		DataScope: map[string][]string{"accounts": {"acct-2"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1", "acct-2"}, token.DataScope()["accounts"])

	profile, _ := minter.Profile("operator")
	assert.Equal(t, []string{"acct-1"}, profile.DataScope["accounts"])
}

func TestMinter_CallerProfilesAreCopied(t *testing.T) {
	profiles := map[string]AgentProfile{"hunter": {AllowedActions: []string{"search_web"}}}
	minter := NewMinter(MinterConfig{Profiles: profiles}, nil)

	profiles["hunter"].AllowedActions[0] = "send_email"

	token, err := minter.Mint("hunter", "goal-1")
	require.NoError(t, err)
	assert.True(t, token.CanPerform("search_web"))
	assert.False(t, token.CanPerform("send_email"))
}

func TestToken_AccessorsReturnCopies(t *testing.T) {
	token, err := newTestMinter().Mint("hunter", "goal-1")
	require.NoError(t, err)

	allowed := token.AllowedActions()
	allowed[0] = "send_email"
	scope := token.DataScope()
	scope["leads"] = []string{"x"}

	assert.False(t, token.CanPerform("send_email"))
	assert.True(t, token.WithinScope("leads", "anything"))
}

func TestToken_DenyWins(t *testing.T) {
	token := &Token{
		allowedActions: []string{"send_email", "read_everything"},
		deniedActions:  []string{"send_email", "read_secrets"},
		dataScope:      map[string][]string{},
	}

	assert.False(t, token.CanPerform("send_email"))
	assert.False(t, token.CanPerform("read_secrets"))
	assert.True(t, token.CanPerform("read_leads"))
	assert.False(t, token.CanPerform("write_leads"))
}

func TestToken_DefaultProfileBehaviour(t *testing.T) {
	token, err := newTestMinter().Mint("hunter", "goal-1")
	require.NoError(t, err)

	assert.True(t, token.CanPerform("read_contacts"))
	assert.False(t, token.CanPerform("delete_lead"))
	assert.False(t, token.CanPerform("send_email"))
	assert.False(t, token.CanPerform("unlisted_action"))
}

func TestToken_IsValidBoundary(t *testing.T) {
	token, err := newTestMinter().Mint("analyst", "goal-1", WithTimeLimit(10))
	require.NoError(t, err)

	assert.True(t, token.IsValidAt(mintTime))
	assert.True(t, token.IsValidAt(mintTime.Add(10*time.Second-time.Nanosecond)))
	assert.False(t, token.IsValidAt(mintTime.Add(10*time.Second)))
	assert.False(t, token.IsValidAt(mintTime.Add(time.Hour)))
}

func TestToken_WithinScope(t *testing.T) {
	token, err := newTestMinter().Mint("analyst", "goal-1", WithAdditionalScope(Scope{
		DataScope: map[string][]string{"accounts": {"acct-1"}},
	}))
	require.NoError(t, err)

	assert.True(t, token.WithinScope("accounts", "acct-1"))
	assert.False(t, token.WithinScope("accounts", "acct-2"))
	assert.True(t, token.WithinScope("contacts", "anyone"))
}

func TestToken_MapRoundTrip(t *testing.T) {
	token, err := newTestMinter().Mint("Strategist Lead", "goal-9", WithAdditionalScope(Scope{
		AllowedActions: []string{"read_calendar"},
		DataScope:      map[string][]string{"accounts": {"a", "b"}},
	}), WithTimeLimit(120))
	require.NoError(t, err)

	wire := token.ToMap()
	assert.Equal(t, "2026-05-04T10:30:00.123456789Z", wire["created_at"])

	decoded, err := FromMap(wire)
	require.NoError(t, err)
	assert.Equal(t, token, decoded)
	assert.True(t, token.CreatedAt().Equal(decoded.CreatedAt()))
}

func TestToken_JSONRoundTrip(t *testing.T) {
	token, err := newTestMinter().Mint("operator", "goal-3", WithAdditionalScope(Scope{
		DataScope: map[string][]string{"accounts": {"acct-1"}},
	}))
	require.NoError(t, err)

	data, err := json.Marshal(token)
	require.NoError(t, err)

	var decoded Token
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, token, &decoded)
}

func TestFromMap_RejectsMalformed(t *testing.T) {
	token, err := newTestMinter().Mint("scout", "goal-1")
	require.NoError(t, err)

	tests := map[string]func(m map[string]interface{}){
		"missing id":       func(m map[string]interface{}) { delete(m, "token_id") },
		"bad created_at":   func(m map[string]interface{}) { m["created_at"] = "yesterday" },
		"fractional limit": func(m map[string]interface{}) { m["time_limit_seconds"] = 1.5 },
		"non-list actions": func(m map[string]interface{}) { m["allowed_actions"] = "read_news" },
		"non-string scope": func(m map[string]interface{}) { m["data_scope"] = map[string]interface{}{"x": []interface{}{1}} },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			wire := token.ToMap()
			mutate(wire)
			_, err := FromMap(wire)
			require.Error(t, err)
			assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
		})
	}
}

func TestToken_SignAndParse(t *testing.T) {
	key := []byte("test-signing-key")
	token, err := newTestMinter().Mint("hunter", "goal-1", WithTimeLimit(600), WithAdditionalScope(Scope{
		DataScope: map[string][]string{"leads": {"l-1"}},
	}))
	require.NoError(t, err)

	signed, err := token.Sign(key)
	require.NoError(t, err)

	during := func() time.Time { return mintTime.Add(time.Minute) }
	parsed, err := ParseSigned(signed, key, during)
	require.NoError(t, err)
	assert.Equal(t, token, parsed)

	_, err = ParseSigned(signed, []byte("other-key"), during)
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeAuthorization))

	after := func() time.Time { return mintTime.Add(11 * time.Minute) }
	_, err = ParseSigned(signed, key, after)
	require.Error(t, err)

	_, err = token.Sign(nil)
	require.Error(t, err)
}
