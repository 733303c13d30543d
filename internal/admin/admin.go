// Package admin implements roster and user-account administration: the CRUD
// operations behind the dashboard, with the uniqueness and
// last-super-admin invariants enforced here rather than in the handlers.
package admin

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"absensi/internal/attendance"
	"absensi/internal/store"
)

// Role of a user account.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleViewer     Role = "viewer"
)

// ValidRole reports whether r is one of the four known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleViewer:
		return true
	}
	return false
}

// User is one persisted account. Password always holds the hash, never the
// plaintext.
type User struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Role      Role   `json:"role"`
	CreatedAt string `json:"created_at"`
}

// Accounts is the persisted user collection.
type Accounts struct {
	Users []User `json:"users"`
}

func (a Accounts) find(username string) int {
	for i := range a.Users {
		if a.Users[i].Username == username {
			return i
		}
	}
	return -1
}

func (a Accounts) superAdmins() int {
	n := 0
	for _, u := range a.Users {
		if u.Role == RoleSuperAdmin {
			n++
		}
	}
	return n
}

// Errors surfaced by the admin operations.
var (
	ErrEmptyField        = errors.New("all fields are required")
	ErrInvalidID         = errors.New("id may only contain letters, digits, dash and underscore")
	ErrDuplicateID       = errors.New("student id already registered")
	ErrNotFound          = errors.New("not found")
	ErrInvalidRole       = errors.New("invalid role")
	ErrDuplicateUsername = errors.New("username already registered")
	ErrPasswordTooShort  = errors.New("password must be at least 6 characters")
	ErrSelfTarget        = errors.New("operation may not target your own account")
	ErrLastSuperAdmin    = errors.New("cannot remove the only super admin")
	ErrWrongPassword     = errors.New("current password is incorrect")
	ErrAlreadySetUp      = errors.New("initial setup already completed")
)

// MinPasswordLen is the minimum accepted password length.
const MinPasswordLen = 6

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const createdAtLayout = "2006-01-02 15:04:05"

// PasswordHasher is the delegated one-way hashing used for account records.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

// Service implements the admin operations over the store.
type Service struct {
	store  *store.Store
	hasher PasswordHasher
}

func NewService(st *store.Store, hasher PasswordHasher) *Service {
	return &Service{store: st, hasher: hasher}
}

// AddStudent registers a student. The id is immutable once created.
func (s *Service) AddStudent(id, name, class string) error {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	class = strings.TrimSpace(class)
	if id == "" || name == "" {
		return ErrEmptyField
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}

	var roster attendance.Roster
	return store.Update(s.store, store.Students, &roster, func(r *attendance.Roster) (bool, error) {
		if _, ok := r.Find(id); ok {
			return false, ErrDuplicateID
		}
		r.Students = append(r.Students, attendance.Student{ID: id, Name: name, Class: class})
		return true, nil
	})
}

// DeleteStudent removes a student from the roster. Ledger entries for the
// student are kept; they are historical record.
func (s *Service) DeleteStudent(id string) error {
	var roster attendance.Roster
	return store.Update(s.store, store.Students, &roster, func(r *attendance.Roster) (bool, error) {
		kept := r.Students[:0]
		for _, st := range r.Students {
			if st.ID != id {
				kept = append(kept, st)
			}
		}
		if len(kept) == len(r.Students) {
			return false, ErrNotFound
		}
		r.Students = kept
		return true, nil
	})
}

// Students lists the roster.
func (s *Service) Students() ([]attendance.Student, error) {
	var roster attendance.Roster
	if err := store.Load(s.store, store.Students, &roster); err != nil {
		return nil, err
	}
	return roster.Students, nil
}

// AddUser creates an account. The password is hashed before the users lock
// is taken; only the hash is ever persisted.
func (s *Service) AddUser(username, password string, role Role, now time.Time) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" || role == "" {
		return ErrEmptyField
	}
	if !ValidRole(role) {
		return ErrInvalidRole
	}
	if len(password) < MinPasswordLen {
		return ErrPasswordTooShort
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	var accounts Accounts
	return store.Update(s.store, store.Users, &accounts, func(a *Accounts) (bool, error) {
		if a.find(username) >= 0 {
			return false, ErrDuplicateUsername
		}
		a.Users = append(a.Users, User{
			Username:  username,
			Password:  hash,
			Role:      role,
			CreatedAt: now.Format(createdAtLayout),
		})
		return true, nil
	})
}

// DeleteUser removes an account. The acting user cannot delete themselves,
// and the last super admin is protected.
func (s *Service) DeleteUser(username, actor string) error {
	if username == actor {
		return ErrSelfTarget
	}
	var accounts Accounts
	return store.Update(s.store, store.Users, &accounts, func(a *Accounts) (bool, error) {
		idx := a.find(username)
		if idx < 0 {
			return false, ErrNotFound
		}
		if a.Users[idx].Role == RoleSuperAdmin && a.superAdmins() == 1 {
			return false, ErrLastSuperAdmin
		}
		a.Users = append(a.Users[:idx], a.Users[idx+1:]...)
		return true, nil
	})
}

// ChangeRole updates an account's role. Demoting the sole super admin is
// rejected for the same reason deleting them is.
func (s *Service) ChangeRole(username string, newRole Role, actor string) error {
	if !ValidRole(newRole) {
		return ErrInvalidRole
	}
	if username == actor {
		return ErrSelfTarget
	}
	var accounts Accounts
	return store.Update(s.store, store.Users, &accounts, func(a *Accounts) (bool, error) {
		idx := a.find(username)
		if idx < 0 {
			return false, ErrNotFound
		}
		u := &a.Users[idx]
		if u.Role == RoleSuperAdmin && newRole != RoleSuperAdmin && a.superAdmins() == 1 {
			return false, ErrLastSuperAdmin
		}
		u.Role = newRole
		return true, nil
	})
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Service) ChangePassword(username, current, newPassword string) error {
	if username == "" || current == "" || newPassword == "" {
		return ErrEmptyField
	}
	if len(newPassword) < MinPasswordLen {
		return ErrPasswordTooShort
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	var accounts Accounts
	return store.Update(s.store, store.Users, &accounts, func(a *Accounts) (bool, error) {
		idx := a.find(username)
		if idx < 0 {
			return false, ErrNotFound
		}
		if !s.hasher.Verify(a.Users[idx].Password, current) {
			return false, ErrWrongPassword
		}
		a.Users[idx].Password = hash
		return true, nil
	})
}

// Setup creates the first account as super admin. It refuses to run once
// any account exists.
func (s *Service) Setup(username, password string, now time.Time) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrEmptyField
	}
	if len(password) < MinPasswordLen {
		return ErrPasswordTooShort
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	var accounts Accounts
	return store.Update(s.store, store.Users, &accounts, func(a *Accounts) (bool, error) {
		if len(a.Users) > 0 {
			return false, ErrAlreadySetUp
		}
		a.Users = append(a.Users, User{
			Username:  username,
			Password:  hash,
			Role:      RoleSuperAdmin,
			CreatedAt: now.Format(createdAtLayout),
		})
		return true, nil
	})
}

// Users lists every account.
func (s *Service) Users() ([]User, error) {
	var accounts Accounts
	if err := store.Load(s.store, store.Users, &accounts); err != nil {
		return nil, err
	}
	return accounts.Users, nil
}

// FindUser returns the account with the given username.
func (s *Service) FindUser(username string) (User, bool, error) {
	var accounts Accounts
	if err := store.Load(s.store, store.Users, &accounts); err != nil {
		return User{}, false, err
	}
	if idx := accounts.find(username); idx >= 0 {
		return accounts.Users[idx], true, nil
	}
	return User{}, false, nil
}
