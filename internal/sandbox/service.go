// Package sandbox is a local development backend for the session client. It serves
// login, refresh, profile and security-settings endpoints with real token rotation so
// the client's refresh and biometric flows can be exercised end to end.
package sandbox

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go-session-client/internal/model"
	"go-session-client/pkg/apierror"
)

const RoleAdmin = "ADMIN"

type user struct {
	profile           model.Profile
	passwordHash      string
	biometricsEnabled bool
	active            bool
}

type refreshGrant struct {
	userID    string
	expiresAt time.Time
}

type Service struct {
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	bcryptCost int
	nowTime    func() time.Time

	mu            sync.RWMutex
	usersByEmail  map[string]*user
	usersByID     map[string]*user
	refreshTokens map[string]refreshGrant
}

type Option func(*Service)

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Service) { s.nowTime = nowFunc }
}

func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(jwtSecret string, accessTTL time.Duration, refreshTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		jwtSecret:     []byte(jwtSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		bcryptCost:    bcrypt.DefaultCost,
		nowTime:       time.Now,
		usersByEmail:  map[string]*user{},
		usersByID:     map[string]*user{},
		refreshTokens: map[string]refreshGrant{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SeedUser registers an account. Emails are matched case-insensitively.
func (s *Service) SeedUser(profile model.Profile, password string) (model.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" || password == "" {
		return model.Profile{}, apierror.New(apierror.CodeBadRequest, "email and password are required", "", http.StatusBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return model.Profile{}, err
	}

	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	profile.Email = email
	if len(profile.Roles) == 0 {
		profile.Roles = []string{"MEMBER"}
	}
	if profile.MembershipStatus == "" {
		profile.MembershipStatus = "ACTIVE"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[email]; exists {
		return model.Profile{}, apierror.New(apierror.CodeAlreadyExists, "email already registered", email, http.StatusConflict)
	}

	u := &user{profile: profile, passwordHash: string(hash), active: true}
	s.usersByEmail[email] = u
	s.usersByID[profile.ID] = u

	return cloneProfile(profile), nil
}

func (s *Service) Login(email string, password string) (model.LoginResponse, error) {
	s.mu.RLock()
	u, exists := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	var (
		hash    string
		active  bool
		profile model.Profile
	)
	if exists {
		hash, active, profile = u.passwordHash, u.active, cloneProfile(u.profile)
	}
	s.mu.RUnlock()

	if !exists {
		return model.LoginResponse{}, apierror.New(apierror.CodeUnauthorized, "invalid email or password", "", http.StatusUnauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return model.LoginResponse{}, apierror.New(apierror.CodeUnauthorized, "invalid email or password", "", http.StatusUnauthorized)
	}

	if !active {
		return model.LoginResponse{}, deactivated()
	}

	pair, err := s.issueTokenPair(profile)
	if err != nil {
		return model.LoginResponse{}, err
	}

	return model.LoginResponse{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Type:         model.DefaultTokenType,
		Profile:      profile,
	}, nil
}

// Refresh rotates a refresh token. Each refresh token is accepted exactly once.
func (s *Service) Refresh(refreshToken string) (model.TokenPair, error) {
	s.mu.Lock()
	grant, exists := s.refreshTokens[refreshToken]
	delete(s.refreshTokens, refreshToken)
	u := s.usersByID[grant.userID]
	var profile model.Profile
	active := false
	if u != nil {
		profile, active = cloneProfile(u.profile), u.active
	}
	s.mu.Unlock()

	if !exists || u == nil || !s.nowTime().Before(grant.expiresAt) {
		return model.TokenPair{}, apierror.New(apierror.CodeUnauthorized, "refresh token is invalid", "", http.StatusUnauthorized)
	}

	if !active {
		return model.TokenPair{}, deactivated()
	}

	return s.issueTokenPair(profile)
}

// ValidateToken parses a bearer access token. Tokens of deactivated accounts are
// refused with ACCOUNT_DEACTIVATED so clients can tell them from expiry.
func (s *Service) ValidateToken(tokenString string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.New(apierror.CodeUnauthorized, "invalid token signing method", "", http.StatusUnauthorized)
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.nowTime))
	if err != nil || !parsed.Valid {
		return nil, apierror.New(apierror.CodeUnauthorized, "invalid or expired token", "", http.StatusUnauthorized)
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.New(apierror.CodeUnauthorized, "invalid token claims", "", http.StatusUnauthorized)
	}

	claims := &model.AuthClaims{}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Email, _ = claimsMap["email"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)
	if roles, ok := claimsMap["roles"].([]any); ok {
		for _, role := range roles {
			if value, ok := role.(string); ok {
				claims.Roles = append(claims.Roles, value)
			}
		}
	}

	if claims.UserID == "" {
		return nil, apierror.New(apierror.CodeUnauthorized, "invalid token subject", "", http.StatusUnauthorized)
	}

	s.mu.RLock()
	u, exists := s.usersByID[claims.UserID]
	active := exists && u.active
	s.mu.RUnlock()

	if !exists {
		return nil, apierror.New(apierror.CodeUnauthorized, "user not found", "", http.StatusUnauthorized)
	}
	if !active {
		return nil, deactivated()
	}

	return claims, nil
}

func (s *Service) Profile(userID string) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.usersByID[userID]
	if !exists {
		return model.Profile{}, apierror.New(apierror.CodeNotFound, "user not found", userID, http.StatusNotFound)
	}

	return cloneProfile(u.profile), nil
}

func (s *Service) SecuritySettings(userID string) (model.SecuritySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.usersByID[userID]
	if !exists {
		return model.SecuritySettings{}, apierror.New(apierror.CodeNotFound, "user not found", userID, http.StatusNotFound)
	}

	return model.SecuritySettings{BiometricsEnabled: u.biometricsEnabled}, nil
}

func (s *Service) UpdateSecuritySettings(userID string, settings model.SecuritySettings) (model.SecuritySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.usersByID[userID]
	if !exists {
		return model.SecuritySettings{}, apierror.New(apierror.CodeNotFound, "user not found", userID, http.StatusNotFound)
	}

	u.biometricsEnabled = settings.BiometricsEnabled
	return model.SecuritySettings{BiometricsEnabled: u.biometricsEnabled}, nil
}

// Deactivate disables an account and revokes all of its refresh tokens.
func (s *Service) Deactivate(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.usersByID[userID]
	if !exists {
		return apierror.New(apierror.CodeNotFound, "user not found", userID, http.StatusNotFound)
	}

	u.active = false
	u.profile.MembershipStatus = "DEACTIVATED"
	for token, grant := range s.refreshTokens {
		if grant.userID == userID {
			delete(s.refreshTokens, token)
		}
	}

	return nil
}

// RevokeRefreshTokens drops every outstanding refresh token of a user, as a server-side
// "sign out everywhere" would.
func (s *Service) RevokeRefreshTokens(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for token, grant := range s.refreshTokens {
		if grant.userID == userID {
			delete(s.refreshTokens, token)
			revoked++
		}
	}
	return revoked
}

// Activities is the sample protected listing.
func (s *Service) Activities(userID string) []model.Activity {
	now := s.nowTime().UTC().Truncate(time.Hour)
	organizer := "community"

	s.mu.RLock()
	if u, ok := s.usersByID[userID]; ok && u.profile.Name != "" {
		organizer = u.profile.Name
	}
	s.mu.RUnlock()

	return []model.Activity{
		{ID: "act-1", Title: "Morning run", StartsAt: now.Add(24 * time.Hour), Organizer: organizer},
		{ID: "act-2", Title: "Book club", StartsAt: now.Add(72 * time.Hour), Organizer: organizer},
	}
}

func (s *Service) issueTokenPair(profile model.Profile) (model.TokenPair, error) {
	now := s.nowTime().UTC()

	accessToken, err := s.signToken(jwt.MapClaims{
		"sub":   profile.ID,
		"email": profile.Email,
		"roles": profile.Roles,
		"typ":   "access",
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return model.TokenPair{}, err
	}

	refreshToken := uuid.NewString()

	s.mu.Lock()
	s.refreshTokens[refreshToken] = refreshGrant{userID: profile.ID, expiresAt: now.Add(s.refreshTTL)}
	s.mu.Unlock()

	return model.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *Service) signToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func cloneProfile(p model.Profile) model.Profile {
	p.Roles = slices.Clone(p.Roles)
	return p
}

func deactivated() *apierror.APIError {
	return apierror.New(apierror.CodeAccountDeactivated, "account has been deactivated", "", http.StatusForbidden)
}
