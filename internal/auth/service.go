package auth

// Service is the account/session contract consumed by the gateway and
// the HTTP handlers.
type Service interface {
	Register(username, password string) (userID uint64, sessionToken string, err error)
	Login(username, password string) (userID uint64, sessionToken string, err error)
	ResolveSession(token string) (userID uint64, username string, ok bool)
	Logout(token string)
	Close() error
}
