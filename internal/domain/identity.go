package domain

// Identity is the authenticated principal attached to a request context
// after AuthN succeeds. Subject is the JWT subject (or API key name) that
// flows into the downstream event's requestContext.authorizer.
//
// TenantID/Namespace are carried through as inert metadata — the platform
// does not enforce multi-tenant quotas (a stated Non-goal) — but the fields
// are kept so an authenticator that supplies them is not forced to discard
// information a future quota layer might want.
type Identity struct {
	Subject   string
	TenantID  string
	Namespace string
	Claims    map[string]any
}
