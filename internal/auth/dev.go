package auth

// DevAuthenticator accepts any non-empty token and returns a fixed identity.
// It must only be selected through the explicit AUTH_DEV_BYPASS setting.
type DevAuthenticator struct {
	identity Identity
}

// DevIdentity is the synthetic identity assigned by DevAuthenticator.
var DevIdentity = Identity{
	UserID:   "1",
	TenantID: "1",
	Roles:    []string{"USER"},
	UserName: "DevUser",
}

// NewDevAuthenticator creates the development bypass authenticator.
func NewDevAuthenticator() *DevAuthenticator {
	return &DevAuthenticator{identity: DevIdentity}
}

// Verify skips verification. A token is still required.
func (a *DevAuthenticator) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	id := a.identity
	id.Roles = append([]string(nil), a.identity.Roles...)
	return id, nil
}
