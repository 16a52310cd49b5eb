package user

// User is the locally cached authenticated-user descriptor.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Language string `json:"language,omitempty"`
}

// Resolver supplies the signed-in user when a caller starts a session
// without naming one. The durable store implements it off the stored
// descriptor; tests use Static.
type Resolver interface {
	Current() (User, bool)
}

// Static resolves to a fixed user.
type Static struct {
	User User
}

func (s Static) Current() (User, bool) {
	return s.User, s.User.ID != ""
}
