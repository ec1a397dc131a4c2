package crypto

import "github.com/golang-jwt/jwt/v5"

// Claims are the operator token claims the audit API reads.
type Claims struct {
	jwt.RegisteredClaims
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles"`
	OrgID     string   `json:"org_id,omitempty"`
	ActorType string   `json:"actor_type,omitempty"`
}

func (c *Claims) GetRoles() []string {
	if c.Roles == nil {
		return []string{}
	}
	return c.Roles
}

// GetActorType maps the token's actor type onto the audit vocabulary.
// Tokens without one belong to people.
func (c *Claims) GetActorType() string {
	switch c.ActorType {
	case "api", "system":
		return c.ActorType
	default:
		return "user"
	}
}
