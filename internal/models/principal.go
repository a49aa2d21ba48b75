package models

// Action is a capability verb checked by the authorization gate.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ResourceType names the kinds of resources the gate knows about.
type ResourceType string

const (
	ResourceDatasources ResourceType = "datasources"
	ResourceTasks       ResourceType = "tasks"
)

// Principal is the identity resolved from a bearer token.
type Principal struct {
	Subject string
	Root    bool
	Roles   []string
}

// RoleGrant allows Subject (a principal or role name) to perform Action on
// Resource. Resource is "<type>/<name>"; a name of "*" is a wildcard that
// expands against the currently enabled resource set at query time.
type RoleGrant struct {
	ID       string `json:"id" db:"id"`
	Subject  string `json:"subject" db:"subject"`
	Action   Action `json:"action" db:"action"`
	Resource string `json:"resource" db:"resource"`
}
