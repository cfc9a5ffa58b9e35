package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const defaultAccessTTL = 15 * time.Minute

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	repo      *Repository
	jwtSecret []byte
	accessTTL time.Duration
}

func NewService(repo *Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		accessTTL: defaultAccessTTL,
	}
}

func (s *Service) WithAccessTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.accessTTL = ttl
	}
	return s
}

func (s *Service) Login(ctx context.Context, username, password string) (Token, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)

	if username == "" || password == "" {
		return Token{}, ErrInvalidCredentials
	}

	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrInvalidCredentials
		}
		return Token{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	return s.issueAccessToken(account.ID)
}

func (s *Service) issueAccessToken(accountID string) (Token, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": accountID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return Token{}, fmt.Errorf("sign jwt: %w", err)
	}

	return Token{
		AccessToken: encoded,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
	}, nil
}

// BootstrapFromEnv ensures the single admin account matches the deployed
// environment. Both values empty means no admin surface is wanted.
func (s *Service) BootstrapFromEnv(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)

	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	return s.repo.UpsertSingleAccount(ctx, username, password)
}
