package models

// Identity is the resolved caller of an authenticated request. The org id is
// the tenancy boundary for every downstream query.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	OrgID  string `json:"org_id"`
	Role   string `json:"role"`
}
