package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"dbinventory/internal/core"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	userRepo   core.UserRepository
	apiKeyRepo core.ApiKeyRepository
}

func NewAuthService(userRepo core.UserRepository, apiKeyRepo core.ApiKeyRepository) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		apiKeyRepo: apiKeyRepo,
	}
}

// CreateUser registers an operator.
func (s *AuthService) CreateUser(username, password string) (*core.User, error) {
	if username == "" || len(password) < 8 {
		return nil, core.Errorf(core.CodeValidation, "user.create", "username required and password must be at least 8 characters")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.userRepo.CreateUser(username, string(hashed))
}

// Authenticate checks credentials and returns user if valid
func (s *AuthService) Authenticate(username, password string) (*core.User, error) {
	user, err := s.userRepo.GetUserByUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials // Don't leak if user exists
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ResetPassword resets a user's password by username
func (s *AuthService) ResetPassword(username, newPassword string) error {
	user, err := s.userRepo.GetUserByUsername(username)
	if err != nil {
		return core.Errorf(core.CodeNotFound, "user.reset", "user not found: %s", username)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hashed)
	return s.userRepo.Update(user)
}

func (s *AuthService) ListUsers() ([]core.User, error) {
	return s.userRepo.GetAll()
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateApiKey issues a random key for the user. Only its SHA-256 is stored;
// the plain key is returned once.
func (s *AuthService) GenerateApiKey(username, description string) (string, *core.ApiKey, error) {
	user, err := s.userRepo.GetUserByUsername(username)
	if err != nil {
		return "", nil, core.Errorf(core.CodeNotFound, "apikey.generate", "user not found: %s", username)
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	key := hex.EncodeToString(raw)

	apiKey := &core.ApiKey{
		UserID:      user.ID,
		KeyPrefix:   key[:8],
		KeyHash:     hashKey(key),
		Description: description,
		CreatedAt:   time.Now(),
		IsActive:    true,
	}
	if err := s.apiKeyRepo.Create(apiKey); err != nil {
		return "", nil, err
	}
	return key, apiKey, nil
}

func (s *AuthService) ListApiKeys() ([]core.ApiKey, error) {
	return s.apiKeyRepo.List()
}

func (s *AuthService) RevokeApiKey(id int64) error {
	return s.apiKeyRepo.Revoke(id)
}

// VerifyApiKey resolves a plain key to its owner. The actor string is
// "user:<name>".
func (s *AuthService) VerifyApiKey(plainKey string) (*core.User, string, error) {
	if plainKey == "" {
		return nil, "", ErrInvalidCredentials
	}
	apiKey, err := s.apiKeyRepo.GetByHash(hashKey(plainKey))
	if err != nil {
		return nil, "", err
	}
	if apiKey == nil {
		return nil, "", ErrInvalidCredentials
	}
	user, err := s.userRepo.GetByID(apiKey.UserID)
	if err != nil || !user.IsActive {
		return nil, "", ErrInvalidCredentials
	}

	// Ignore error to not block auth
	_ = s.apiKeyRepo.UpdateLastUsed(apiKey.ID)

	return user, "user:" + user.Username, nil
}

// HasUsers checks if system is set up
func (s *AuthService) HasUsers() (bool, error) {
	count, err := s.userRepo.CountUsers()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
