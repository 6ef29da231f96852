package model

// Profile is the authenticated user's profile as returned by the backend.
// It never carries tokens.
type Profile struct {
	ID                string   `json:"id"`
	Email             string   `json:"email"`
	Name              string   `json:"name"`
	Roles             []string `json:"roles"`
	PhoneNumber       string   `json:"phoneNumber,omitempty"`
	Gender            string   `json:"gender,omitempty"`
	Age               int      `json:"age,omitempty"`
	ProfileImageURL   string   `json:"profileImageUrl,omitempty"`
	PreferredLanguage string   `json:"preferredLanguage,omitempty"`
	MembershipStatus  string   `json:"membershipStatus,omitempty"`
}

func (p Profile) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
