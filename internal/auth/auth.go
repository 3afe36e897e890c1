package auth

import (
	"chatline/internal/models"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	issuer             = "chatline-platform"
)

var (
	ErrClientExists  = errors.New("client already exists")
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrThrottled     = errors.New("too many failed attempts")
	ErrBadCredential = errors.New("invalid client credentials")
)

// ClientCredentials is a platform client (user or device) with its secret hash.
type ClientCredentials struct {
	models.ClientInfo
	SecretHash string `json:"secretHash"`
	CreatedAt  int64  `json:"createdAt"`
	// Consecutive failed token requests, to throttle brute force attempts.
	FailedAttempts  int64 `json:"failedAttempts"`
	LastAttemptTime int64 `json:"lastAttemptTime"`
}

func (c *ClientCredentials) ResetFailedAttempts(now time.Time) {
	c.FailedAttempts = 0
	c.LastAttemptTime = now.Unix()
}

func (c *ClientCredentials) IncrementFailedAttempts(now time.Time) {
	c.FailedAttempts++
	c.LastAttemptTime = now.Unix()
}

type Claims struct {
	ClientID string `json:"sub"`
	Name     string `json:"name"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

type AuthService struct {
	Config
	clients *geche.Locker[string, *ClientCredentials]
	revoked geche.Geche[string, struct{}]
	now     func() time.Time
}

func NewAuthService(ctx context.Context, config Config) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:  config,
		clients: geche.NewLocker[string, *ClientCredentials](geche.NewMapCache[string, *ClientCredentials]()),
		revoked: geche.NewMapTTLCache[string, struct{}](ctx, config.TokenExpiry, time.Minute),
		now:     time.Now,
	}, nil
}

// LoadClients restores persisted clients.
func (as *AuthService) LoadClients(clients []ClientCredentials) {
	tx := as.clients.Lock()
	defer tx.Unlock()
	for _, c := range clients {
		c := c
		tx.Set(c.ID, &c)
	}
}

// AddClient creates a client with the given id (a random one when empty)
// and returns it with its one-time plain secret.
func (as *AuthService) AddClient(id, name, secret string) (ClientCredentials, string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if secret == "" {
		var err error
		if secret, err = generateSecret(); err != nil {
			return ClientCredentials{}, "", err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return ClientCredentials{}, "", fmt.Errorf("failed to hash secret: %w", err)
	}

	tx := as.clients.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(id); err == nil {
		return ClientCredentials{}, "", ErrClientExists
	}

	creds := &ClientCredentials{
		ClientInfo: models.ClientInfo{ID: id, Name: name, Status: models.ClientStatusEnabled},
		SecretHash: string(hash),
		CreatedAt:  as.now().Unix(),
	}
	tx.Set(id, creds)
	return *creds, secret, nil
}

func (as *AuthService) Client(id string) (ClientCredentials, error) {
	tx := as.clients.Lock()
	defer tx.Unlock()
	c, err := tx.Get(id)
	if err != nil {
		return ClientCredentials{}, models.ErrNotFound
	}
	return *c, nil
}

// IssueToken checks the client secret and signs an access token.
// It also returns the updated credentials so the caller can persist them.
func (as *AuthService) IssueToken(clientID, secret string) (models.Token, ClientCredentials, error) {
	now := as.now()
	tx := as.clients.Lock()
	defer tx.Unlock()

	client, err := tx.Get(clientID)
	if err != nil || client.Status != models.ClientStatusEnabled {
		return models.Token{}, ClientCredentials{}, ErrBadCredential
	}

	if client.FailedAttempts > 3 {
		next := client.LastAttemptTime + 30*(client.FailedAttempts*client.FailedAttempts)
		if now.Unix() < next {
			return models.Token{}, *client, fmt.Errorf("%w: next attempt in %d seconds", ErrThrottled, next-now.Unix())
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		client.IncrementFailedAttempts(now)
		return models.Token{}, *client, ErrBadCredential
	}

	expires := now.Add(as.TokenExpiry)
	claims := Claims{
		ClientID: client.ID,
		Name:     client.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.secretBytes)
	if err != nil {
		return models.Token{}, *client, fmt.Errorf("failed to sign token: %w", err)
	}

	client.ResetFailedAttempts(now)
	return models.Token{AccessToken: signed, ExpiresAt: expires.Unix()}, *client, nil
}

// Validate returns the client id a token was issued to.
func (as *AuthService) Validate(token string) (string, error) {
	claims, err := as.parse(token)
	if err != nil {
		return "", err
	}
	if _, err := as.revoked.Get(claims.ID); err == nil {
		return "", ErrInvalidToken
	}
	if _, err := as.Client(claims.ClientID); err != nil {
		return "", ErrInvalidToken
	}
	return claims.ClientID, nil
}

// Revoke invalidates token until it would have expired anyway.
func (as *AuthService) Revoke(token string) error {
	claims, err := as.parse(token)
	if err != nil {
		return err
	}
	as.revoked.Set(claims.ID, struct{}{})
	return nil
}

func (as *AuthService) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return as.secretBytes, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(as.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
