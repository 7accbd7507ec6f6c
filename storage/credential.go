package storage

import "kanban-api/domain"

// Scope is the access level a Credential grants.
type Scope int

const (
	// ScopeCaller restricts every row operation to boards the caller owns.
	ScopeCaller Scope = iota + 1
	// ScopeService bypasses ownership checks. Only the server holds it.
	ScopeService
)

func (s Scope) String() string {
	switch s {
	case ScopeCaller:
		return "caller"
	case ScopeService:
		return "service"
	}
	return "none"
}

// Credential is the capability a Client acts with. The zero value grants
// nothing.
type Credential struct {
	scope Scope
	owner domain.Identity
}

// CallerCredential scopes store access to rows owned by id.
func CallerCredential(id domain.Identity) Credential {
	return Credential{scope: ScopeCaller, owner: id}
}

// ServiceCredential returns the elevated credential used by privileged
// server routes.
func ServiceCredential() Credential {
	return Credential{scope: ScopeService}
}

func (c Credential) Scope() Scope { return c.scope }

// Elevated reports whether c bypasses row ownership.
func (c Credential) Elevated() bool { return c.scope == ScopeService }

// Owner returns the identity a caller credential is bound to.
func (c Credential) Owner() domain.Identity { return c.owner }

func (c Credential) valid() bool {
	switch c.scope {
	case ScopeService:
		return true
	case ScopeCaller:
		return c.owner != ""
	}
	return false
}
