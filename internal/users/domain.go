package users

import "time"

// User is the account record managed by this module.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Redact clears the fields named in the attribute filter. The password hash
// never serializes regardless; redaction covers the remaining fields a grant
// may withhold.
func (u User) Redact(fields []string) User {
	for _, f := range fields {
		switch f {
		case "email":
			u.Email = ""
		case "name":
			u.Name = ""
		}
	}
	return u
}

// ListFilters narrows the user listing.
type ListFilters struct {
	Search   string
	Role     string
	Active   *bool
	Page     int
	PageSize int
}

// Page is one page of users plus total count.
type Page struct {
	Users []User `json:"users"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}
