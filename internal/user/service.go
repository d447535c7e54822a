package user

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "moto-chat"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Store is the persistence the service needs. *Repository satisfies it.
type Store interface {
	CreateRider(ctx context.Context, rider *Rider) (*Rider, error)
	GetRiderByUsername(ctx context.Context, username string) (*Rider, error)
}

type Service struct {
	store     Store
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

type Claims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(store Store, secret string) *Service {
	return &Service{
		store:     store,
		jwtSecret: []byte(secret),
		tokenTTL:  24 * time.Hour,
		now:       time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *Credentials) (*RegisterResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	rider, err := s.store.CreateRider(ctx, &Rider{Username: username, Password: string(hashed)})
	if err != nil {
		return nil, err
	}
	return &RegisterResponse{ID: rider.ID, Username: rider.Username}, nil
}

func (s *Service) Login(ctx context.Context, req *Credentials) (*LoginResponse, error) {
	rider, err := s.store.GetRiderByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rider.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(rider.ID, rider.Username)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{AccessToken: token, ID: rider.ID, Username: rider.Username}, nil
}

func (s *Service) IssueToken(id int, username string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})

	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// ValidateToken returns the rider id and username carried by a token.
func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return 0, "", ErrInvalidToken
	}
	return claims.ID, claims.Username, nil
}
