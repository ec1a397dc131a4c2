package audit

import "strings"

// Action is a "<target>.<verb>" identifier drawn from a closed vocabulary.
type Action string

const (
	ActionLoginSucceeded Action = "login.succeeded"
	ActionLoginFailed    Action = "login.failed"

	ActionUserCreated Action = "user.created"
	ActionUserUpdated Action = "user.updated"
	ActionUserDeleted Action = "user.deleted"

	ActionOrganizationCreated Action = "organization.created"
	ActionOrganizationUpdated Action = "organization.updated"
	ActionOrganizationDeleted Action = "organization.deleted"

	ActionMembershipCreated Action = "membership.created"
	ActionMembershipUpdated Action = "membership.updated"
	ActionMembershipDeleted Action = "membership.deleted"

	ActionInviteCreated Action = "invite.created"
	ActionInviteDeleted Action = "invite.deleted"

	ActionProjectCreated Action = "project.created"
	ActionProjectUpdated Action = "project.updated"
	ActionProjectDeleted Action = "project.deleted"

	ActionSurveyCreated Action = "survey.created"
	ActionSurveyUpdated Action = "survey.updated"
	ActionSurveyDeleted Action = "survey.deleted"

	ActionResponseDeleted Action = "response.deleted"

	ActionWebhookCreated Action = "webhook.created"
	ActionWebhookUpdated Action = "webhook.updated"
	ActionWebhookDeleted Action = "webhook.deleted"

	ActionAPIKeyCreated Action = "apiKey.created"
	ActionAPIKeyDeleted Action = "apiKey.deleted"

	ActionIntegrationCreated Action = "integration.created"
	ActionIntegrationDeleted Action = "integration.deleted"

	// ActionChainReset starts a new chain segment. Only the Recorder emits it.
	ActionChainReset Action = "audit.chain_reset"
)

// Target returns the noun part of the action.
func (a Action) Target() string {
	noun, _, _ := strings.Cut(string(a), ".")
	return noun
}

// Vocabulary is the closed set of actions the Recorder accepts.
type Vocabulary struct {
	actions map[Action]struct{}
}

func NewVocabulary(actions ...Action) *Vocabulary {
	v := &Vocabulary{actions: make(map[Action]struct{}, len(actions))}
	for _, a := range actions {
		v.actions[a] = struct{}{}
	}
	return v
}

// DefaultVocabulary contains every action declared in this package.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(
		ActionLoginSucceeded, ActionLoginFailed,
		ActionUserCreated, ActionUserUpdated, ActionUserDeleted,
		ActionOrganizationCreated, ActionOrganizationUpdated, ActionOrganizationDeleted,
		ActionMembershipCreated, ActionMembershipUpdated, ActionMembershipDeleted,
		ActionInviteCreated, ActionInviteDeleted,
		ActionProjectCreated, ActionProjectUpdated, ActionProjectDeleted,
		ActionSurveyCreated, ActionSurveyUpdated, ActionSurveyDeleted,
		ActionResponseDeleted,
		ActionWebhookCreated, ActionWebhookUpdated, ActionWebhookDeleted,
		ActionAPIKeyCreated, ActionAPIKeyDeleted,
		ActionIntegrationCreated, ActionIntegrationDeleted,
		ActionChainReset,
	)
}

// With returns a copy of the vocabulary extended with extra actions.
func (v *Vocabulary) With(extra ...Action) *Vocabulary {
	out := NewVocabulary(extra...)
	for a := range v.actions {
		out.actions[a] = struct{}{}
	}
	return out
}

func (v *Vocabulary) Contains(a Action) bool {
	_, ok := v.actions[a]
	return ok
}
