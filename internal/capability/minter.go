package capability

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/arcwell-foundry/aria/pkg/logging"
)

// DefaultTimeLimit is the validity window of a token minted without an explicit limit
const DefaultTimeLimit = 3600

// MinterConfig configures a Minter
type MinterConfig struct {
	// Profiles maps role names to templates; nil uses DefaultProfiles
	Profiles map[string]AgentProfile
	// DefaultTimeLimit in seconds; non-positive uses DefaultTimeLimit
	DefaultTimeLimit int
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Minter mints tokens from role profiles. It is safe for concurrent use:
// profiles are copied at construction and never written again.
type Minter struct {
	profiles         map[string]AgentProfile
	roles            []string
	defaultTimeLimit int
	now              func() time.Time
	logger           *logging.Logger
}

// NewMinter creates a Minter
func NewMinter(config MinterConfig, logger *logging.Logger) *Minter {
	if config.Profiles == nil {
		config.Profiles = DefaultProfiles()
	}
	if config.DefaultTimeLimit <= 0 {
		config.DefaultTimeLimit = DefaultTimeLimit
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	profiles := make(map[string]AgentProfile, len(config.Profiles))
	for role, profile := range config.Profiles {
		profiles[normalizeRole(role)] = profile.clone()
	}

	return &Minter{
		profiles:         profiles,
		roles:            sortedRoles(profiles),
		defaultTimeLimit: config.DefaultTimeLimit,
		now:              config.Now,
		logger:           logger,
	}
}

type mintOptions struct {
	timeLimit  int
	additional *Scope
}

// MintOption customizes a single Mint call
type MintOption func(*mintOptions)

// WithTimeLimit overrides the validity window in seconds
func WithTimeLimit(seconds int) MintOption {
	return func(o *mintOptions) {
		o.timeLimit = seconds
	}
}

// WithAdditionalScope appends extra grants to the profile's
func WithAdditionalScope(scope Scope) MintOption {
	return func(o *mintOptions) {
		o.additional = &scope
	}
}

// Mint creates a token for delegatee working on goalID.
//
// The profile is resolved from a normalized form of delegatee, while the token
// keeps delegatee verbatim. Additional scope is appended to the profile's
// lists and scope entries, never replacing them.
func (m *Minter) Mint(delegatee, goalID string, opts ...MintOption) (*Token, error) {
	options := mintOptions{timeLimit: m.defaultTimeLimit}
	for _, opt := range opts {
		opt(&options)
	}

	if options.timeLimit <= 0 {
		return nil, errors.NewValidationError("time limit must be positive")
	}

	role, profile, ok := m.resolve(delegatee)
	if !ok {
		m.logger.Warn("Refusing to mint token for unknown role",
			"delegatee", delegatee,
			"goal_id", goalID,
		)
		return nil, errors.NewUnknownRoleError(delegatee, m.roles)
	}

	allowed := copyStrings(profile.AllowedActions)
	denied := copyStrings(profile.DeniedActions)
	scope := copyScope(profile.DataScope)

	if extra := options.additional; extra != nil {
		allowed = append(allowed, extra.AllowedActions...)
		denied = append(denied, extra.DeniedActions...)
		for dataType, ids := range extra.DataScope {
			scope[dataType] = append(scope[dataType], ids...)
		}
	}

	token := &Token{
		tokenID:          uuid.New().String(),
		delegatee:        delegatee,
		goalID:           goalID,
		allowedActions:   allowed,
		deniedActions:    denied,
		dataScope:        scope,
		timeLimitSeconds: options.timeLimit,
		createdAt:        m.now().UTC(),
	}

	m.logger.Debug("Minted capability token",
		"token_id", token.tokenID,
		"delegatee", delegatee,
		"role", role,
		"goal_id", goalID,
		"time_limit_seconds", token.timeLimitSeconds,
	)

	return token, nil
}

// Roles returns the known role names in sorted order
func (m *Minter) Roles() []string {
	return copyStrings(m.roles)
}

// Profile returns a copy of the template for role
func (m *Minter) Profile(role string) (AgentProfile, bool) {
	_, profile, ok := m.resolve(role)
	if !ok {
		return AgentProfile{}, false
	}
	return profile.clone(), true
}

// resolve tries the full normalized role, then its first word
func (m *Minter) resolve(delegatee string) (string, AgentProfile, bool) {
	role := normalizeRole(delegatee)
	if profile, ok := m.profiles[role]; ok {
		return role, profile, true
	}

	if fields := strings.Fields(role); len(fields) > 1 {
		if profile, ok := m.profiles[fields[0]]; ok {
			return fields[0], profile, true
		}
	}
	return "", AgentProfile{}, false
}

// normalizeRole lower-cases, treats '-' and '_' as spaces and collapses whitespace
func normalizeRole(role string) string {
	role = strings.ToLower(role)
	role = strings.NewReplacer("-", " ", "_", " ").Replace(role)
	return strings.Join(strings.Fields(role), " ")
}
