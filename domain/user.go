package domain

// Identity is an authenticated user as reported by the identity provider.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

func (i *Identity) Valid() bool {
	return i != nil && i.UID != ""
}
