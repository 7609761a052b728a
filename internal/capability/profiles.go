package capability

import "sort"

// Scope is a set of grants that can be merged into a token
type Scope struct {
	AllowedActions []string            `json:"allowed_actions,omitempty" yaml:"allowed_actions,omitempty"`
	DeniedActions  []string            `json:"denied_actions,omitempty" yaml:"denied_actions,omitempty"`
	DataScope      map[string][]string `json:"data_scope,omitempty" yaml:"data_scope,omitempty"`
}

// AgentProfile is the permission template for a worker role. Profiles are
// read-only once handed to a Minter.
type AgentProfile Scope

func (p AgentProfile) clone() AgentProfile {
	return AgentProfile{
		AllowedActions: copyStrings(p.AllowedActions),
		DeniedActions:  copyStrings(p.DeniedActions),
		DataScope:      copyScope(p.DataScope),
	}
}

// DefaultProfiles returns a fresh copy of the built-in role profiles
func DefaultProfiles() map[string]AgentProfile {
	return map[string]AgentProfile{
		"hunter": {
			AllowedActions: []string{"read_everything", "search_web", "search_companies", "enrich_lead", "create_lead"},
			DeniedActions:  []string{"send_email", "delete_anything", "modify_crm"},
			DataScope:      map[string][]string{},
		},
		"analyst": {
			AllowedActions: []string{"read_everything", "search_web", "run_analysis", "score_lead"},
			DeniedActions:  []string{"send_email", "delete_anything", "write_everything"},
			DataScope:      map[string][]string{},
		},
		"strategist": {
			AllowedActions: []string{"read_everything", "run_analysis", "create_plan", "update_plan"},
			DeniedActions:  []string{"send_email", "delete_anything", "modify_crm"},
			DataScope:      map[string][]string{},
		},
		"scribe": {
			AllowedActions: []string{"read_leads", "read_contacts", "read_templates", "draft_email", "draft_document"},
			DeniedActions:  []string{"send_email", "delete_anything", "modify_crm"},
			DataScope:      map[string][]string{},
		},
		"operator": {
			AllowedActions: []string{"read_everything", "modify_crm", "sync_crm", "schedule_meeting", "read_calendar"},
			DeniedActions:  []string{"delete_anything", "send_email"},
			DataScope:      map[string][]string{},
		},
		"scout": {
			AllowedActions: []string{"read_news", "read_signals", "search_web", "monitor_anything"},
			DeniedActions:  []string{"write_everything", "delete_anything", "send_email"},
			DataScope:      map[string][]string{},
		},
	}
}

func sortedRoles(profiles map[string]AgentProfile) []string {
	roles := make([]string, 0, len(profiles))
	for role := range profiles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
