package ftp

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/marmos91/nebulaftp/pkg/metadata"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
	"github.com/marmos91/nebulaftp/pkg/metadata/store"
)

// defaultUserConnections is the per-user concurrent session budget.
const defaultUserConnections = 100

// Permission grants read/write on a virtual path subtree.
type Permission struct {
	Path     string
	Readable bool
	Writable bool
}

// User is an authenticated FTP account. HomePath is always "/<login>".
type User struct {
	Login       string
	Password    string
	HomePath    string
	Permissions []Permission
}

// userFromDoc builds a User from a credential document. Two permissions
// are implicit: full access to the home subtree, and read-only access to
// "/" unless the document declares a root permission itself.
func userFromDoc(doc *metadata.UserDoc) *User {
	home := "/" + doc.Login

	perms := make([]Permission, 0, len(doc.Permissions)+2)
	hasRoot := false
	for _, p := range doc.Permissions {
		perms = append(perms, Permission{Path: p.Path, Readable: p.Readable, Writable: p.Writable})
		if p.Path == "/" {
			hasRoot = true
		}
	}
	perms = append(perms, Permission{Path: home, Readable: true, Writable: true})
	if !hasRoot {
		perms = append(perms, Permission{Path: "/", Readable: true, Writable: false})
	}

	return &User{
		Login:       doc.Login,
		Password:    doc.Password,
		HomePath:    home,
		Permissions: perms,
	}
}

// GetPermissions selects the permission whose path is the longest
// ancestor of the virtual path; among equals the first declared wins.
func (u *User) GetPermissions(virtual string) Permission {
	best := Permission{}
	bestLen := -1
	for _, p := range u.Permissions {
		if !isAncestor(p.Path, virtual) {
			continue
		}
		if len(p.Path) > bestLen {
			best = p
			bestLen = len(p.Path)
		}
	}
	return best
}

// isAncestor reports whether dir is path itself or one of its ancestors.
func isAncestor(dir, path string) bool {
	if dir == "/" {
		return true
	}
	return path == dir || strings.HasPrefix(path, dir+"/")
}

// ErrTooManyConnections is returned when a login exhausts its session
// budget.
var ErrTooManyConnections = errors.New("too many connections")

// Authenticator resolves logins against the credential store and tracks
// the per-user connection budget.
type Authenticator struct {
	creds   store.CredentialStore
	perUser int

	mu    sync.Mutex
	slots map[string]int
}

// NewAuthenticator creates an authenticator. perUser <= 0 means the
// default budget of 100.
func NewAuthenticator(creds store.CredentialStore, perUser int) *Authenticator {
	if perUser <= 0 {
		perUser = defaultUserConnections
	}
	return &Authenticator{
		creds:   creds,
		perUser: perUser,
		slots:   make(map[string]int),
	}
}

// GetUser looks up a login and claims one connection slot. The caller
// must release it with NotifyLogout when the session ends.
func (a *Authenticator) GetUser(ctx context.Context, login string) (*User, error) {
	doc, err := a.creds.FindUserByLogin(ctx, login)
	if err != nil {
		if metaerrors.IsNotFound(err) {
			return nil, metaerrors.New(metaerrors.ErrNotFound, login, "no such username")
		}
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	used, ok := a.slots[login]
	if !ok {
		used = 0
	}
	if used >= a.perUser {
		return nil, ErrTooManyConnections
	}
	a.slots[login] = used + 1

	return userFromDoc(doc), nil
}

// Authenticate checks the password. Plain equality: credential hardening
// is the deployer's concern.
func (a *Authenticator) Authenticate(user *User, password string) bool {
	return user != nil && user.Password == password
}

// NotifyLogout releases one connection slot for the login.
func (a *Authenticator) NotifyLogout(login string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if used, ok := a.slots[login]; ok && used > 0 {
		a.slots[login] = used - 1
	}
}
