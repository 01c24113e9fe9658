package roles

// Info describes one role in the hierarchy for API consumers.
type Info struct {
	Name   string `json:"name"`
	Level  int    `json:"level"`
	Parent string `json:"parent,omitempty"`
}

// GrantView is the API shape of a single effective grant.
type GrantView struct {
	Action     string   `json:"action"`
	Resource   string   `json:"resource"`
	Scope      string   `json:"scope"`
	DeniedAttr []string `json:"deniedAttributes,omitempty"`
}
