package authserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/slug"
)

// Account types.
const (
	AccountIndividual   = "individual"
	AccountOrganization = "organization"
)

// User is an account known to the reference backend.
type User struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	PhoneNumber    string
	Role           string
	AccountType    string
	OrganizationID string
	Company        string
	CompanySlug    string
	PasswordHash   []byte
	CreatedAt      time.Time
}

// NewAccount is the input for UserStore.Create.
type NewAccount struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
	AccountType string
	Company     string
}

// UserStore keeps accounts and issued refresh tokens in memory.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
	orgs    map[string]string // company slug → organization id
	refresh map[string]string // refresh token id → user id
	cost    int
	now     func() time.Time
}

// NewUserStore creates an empty store hashing passwords at the given bcrypt
// cost (bcrypt.DefaultCost when zero).
func NewUserStore(cost int, now func() time.Time) *UserStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if now == nil {
		now = time.Now
	}
	return &UserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]*User),
		orgs:    make(map[string]string),
		refresh: make(map[string]string),
		cost:    cost,
		now:     now,
	}
}

// Create registers an account. Organization accounts join the organization
// whose company name has the same slug, creating it on first use, and get
// the owner role when they create it.
func (s *UserStore) Create(in NewAccount) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	email := normalizeEmail(in.Email)
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PhoneNumber:  in.PhoneNumber,
		Role:         "agent",
		AccountType:  in.AccountType,
		Company:      strings.TrimSpace(in.Company),
		CompanySlug:  slug.Generate(in.Company),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, apperrors.Conflict("an account with this email already exists")
	}
	if u.AccountType == AccountOrganization && u.CompanySlug != "" {
		org, ok := s.orgs[u.CompanySlug]
		if !ok {
			org = uuid.NewString()
			s.orgs[u.CompanySlug] = org
			u.Role = "owner"
		}
		u.OrganizationID = org
	}

	s.byID[u.ID] = u
	s.byEmail[email] = u
	return u, nil
}

// Authenticate returns the user for valid credentials. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *UserStore) Authenticate(email, password string) (*User, error) {
	s.mu.RLock()
	u, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()

	if !ok {
		// Equalize timing with the known-user path.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, errInvalidCredentials
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}
	return u, nil
}

// Get returns the user with the given id.
func (s *UserStore) Get(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return u, nil
}

// RememberRefresh records an issued refresh token id.
func (s *UserStore) RememberRefresh(tokenID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[tokenID] = userID
}

// ConsumeRefresh removes tokenID and reports whether it was live and
// belonged to userID. Each refresh token can be exchanged once.
func (s *UserStore) ConsumeRefresh(tokenID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.refresh[tokenID]
	delete(s.refresh, tokenID)
	return ok && owner == userID
}

// RevokeRefresh forgets tokenID.
func (s *UserStore) RevokeRefresh(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, tokenID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	errInvalidCredentials = apperrors.InvalidCredentials(http.StatusUnauthorized, "Invalid email or password")

	// dummyHash is compared against when the email is unknown.
	dummyHash, _ = bcrypt.GenerateFromPassword([]byte("estatedesk-timing"), bcrypt.MinCost)
)
