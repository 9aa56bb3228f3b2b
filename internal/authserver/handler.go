package authserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/httputil"
	"github.com/utafrali/EstateDesk/pkg/logger"
	"github.com/utafrali/EstateDesk/pkg/middleware"
	"github.com/utafrali/EstateDesk/pkg/pagination"
	"github.com/utafrali/EstateDesk/pkg/validator"
)

// RefreshCookie is the http-only cookie carrying the refresh token.
const RefreshCookie = "refreshToken"

const maxBodyBytes = 1 << 20

// --- Request DTOs ---

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signupRequest struct {
	FirstName   string `json:"firstName" validate:"required,max=100"`
	LastName    string `json:"lastName" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	PhoneNumber string `json:"phoneNumber" validate:"max=32"`
	AccountType string `json:"accountType" validate:"required,oneof=individual organization"`
	Company     string `json:"company" validate:"max=200"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// --- Response types ---

type organizationView struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type userView struct {
	ID           string            `json:"_id"`
	Email        string            `json:"email"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName"`
	PhoneNumber  string            `json:"phoneNumber,omitempty"`
	Role         string            `json:"role"`
	AccountType  string            `json:"accountType"`
	Organization *organizationView `json:"organization"`
}

type sessionResponse struct {
	User         userView `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
}

// Lead is the demo resource behind the protected API.
type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Stage     string    `json:"stage"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserView(u *User) userView {
	v := userView{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		PhoneNumber: u.PhoneNumber,
		Role:        u.Role,
		AccountType: u.AccountType,
	}
	if u.OrganizationID != "" {
		v.Organization = &organizationView{ID: u.OrganizationID, Name: u.Company, Slug: u.CompanySlug}
	}
	return v
}

// --- Handlers ---

// login handles POST /auth/login.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	u, err := s.users.Authenticate(req.Email, req.Password)
	if err != nil {
		logger.FromContext(r.Context()).InfoContext(r.Context(), "login rejected",
			slog.String("email", normalizeEmail(req.Email)))
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	s.startSession(w, r, u, http.StatusOK)
}

// signup handles POST /auth/signup.
func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decode(w, r, &req) {
		return
	}

	u, err := s.users.Create(NewAccount{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		AccountType: req.AccountType,
		Company:     req.Company,
	})
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	logger.FromContext(r.Context()).InfoContext(r.Context(), "account created",
		slog.String("user_id", u.ID),
		slog.String("account_type", u.AccountType),
	)
	s.startSession(w, r, u, http.StatusCreated)
}

// refresh handles POST /auth/refresh. The token comes from the body or,
// when the body has none, from the refresh cookie. Tokens rotate: each one
// is accepted exactly once.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	token, err := refreshToken(w, r)
	if err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	claims, err := s.tokens.ParseRefresh(token)
	if err != nil || !s.users.ConsumeRefresh(claims.ID, claims.Subject) {
		s.clearCookie(w)
		httputil.WriteError(w, r, errInvalidRefresh, s.logger)
		return
	}

	u, err := s.users.Get(claims.Subject)
	if err != nil {
		s.clearCookie(w)
		httputil.WriteError(w, r, errInvalidRefresh, s.logger)
		return
	}
	s.startSession(w, r, u, http.StatusOK)
}

// logout handles POST /auth/logout. It always succeeds; a presented
// refresh token is revoked.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if token, err := refreshToken(w, r); err == nil && token != "" {
		if claims, err := s.tokens.ParseRefresh(token); err == nil {
			s.users.RevokeRefresh(claims.ID)
		}
	}
	s.clearCookie(w)
	httputil.WriteData(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// listLeads handles GET /api/v1/leads?page=&per_page=.
func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OrganizationIDFromContext(r.Context())
	if owner == "" {
		owner = middleware.UserIDFromContext(r.Context())
	}
	page := pagination.FromQuery(r.URL.Query())
	httputil.WriteJSON(w, http.StatusOK, pagination.Paginate(demoLeads(owner, s.now()), page))
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, u *User, status int) {
	access, err := s.tokens.Access(u)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal(err), s.logger)
		return
	}
	refresh, id, expires, err := s.tokens.Refresh(u.ID)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal(err), s.logger)
		return
	}
	s.users.RememberRefresh(id, u.ID)

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/auth",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	resp := sessionResponse{User: newUserView(u), AccessToken: access}
	if !s.cfg.CookieOnly {
		resp.RefreshToken = refresh
	}
	httputil.WriteData(w, status, resp)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

var errInvalidRefresh = &apperrors.AppError{
	Code:    "INVALID_REFRESH_TOKEN",
	Message: "refresh token is invalid or expired",
	Status:  http.StatusUnauthorized,
	Err:     apperrors.ErrUnauthorized,
}

// decode reads and validates a JSON body, writing the 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := validator.DecodeAndValidate(r, dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}

// refreshToken extracts the refresh token from an optional JSON body,
// falling back to the cookie. An empty body is fine.
func refreshToken(w http.ResponseWriter, r *http.Request) (string, error) {
	var req refreshRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("decode request body: %w", err)
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, nil
	}
	if c, err := r.Cookie(RefreshCookie); err == nil {
		return c.Value, nil
	}
	return "", nil
}

func demoLeads(owner string, now time.Time) []Lead {
	base := now.UTC().Truncate(24 * time.Hour)
	prefix := owner
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return []Lead{
		{ID: prefix + "-l1", Name: "Ayşe Demir", Phone: "+90 532 000 0001", Stage: "new", Source: "whatsapp", CreatedAt: base.Add(-2 * time.Hour)},
		{ID: prefix + "-l2", Name: "Mehmet Kaya", Phone: "+90 532 000 0002", Stage: "contacted", Source: "website", CreatedAt: base.Add(-26 * time.Hour)},
		{ID: prefix + "-l3", Name: "Elif Şahin", Phone: "+90 532 000 0003", Stage: "visit_scheduled", Source: "referral", CreatedAt: base.Add(-72 * time.Hour)},
	}
}
