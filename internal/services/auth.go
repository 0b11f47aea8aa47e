package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/harvestlink/harvestlink-backend/internal/data/repos"
	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/domain/user"
	"github.com/harvestlink/harvestlink-backend/internal/platform/apierr"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
	"github.com/harvestlink/harvestlink-backend/internal/platform/requestdata"
)

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     string
	Phone    string
	Region   string
}

// AuthService anchors actor identity. The contract engine treats auth as an
// external capability; this is that capability's boundary.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*user.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type authService struct {
	db           *gorm.DB
	log          *logger.Logger
	users        repos.UserRepo
	jwtSecretKey string
	accessTTL    time.Duration
}

func NewAuthService(db *gorm.DB, baseLog *logger.Logger, userRepo repos.UserRepo, jwtSecretKey string, accessTTL time.Duration) AuthService {
	return &authService{
		db:           db,
		log:          baseLog.With("service", "AuthService"),
		users:        userRepo,
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
	}
}

func (as *authService) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email required", contracts.ErrValidation)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", contracts.ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name required", contracts.ErrValidation)
	}
	if !user.ValidRole(in.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", contracts.ErrValidation, in.Role)
	}

	exists, err := as.users.EmailExists(ctx, nil, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: email already registered", contracts.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &user.User{
		ID:       uuid.New(),
		Email:    email,
		Password: string(hash),
		Name:     strings.TrimSpace(in.Name),
		Role:     in.Role,
		Phone:    strings.TrimSpace(in.Phone),
		Region:   strings.TrimSpace(in.Region),
	}
	if _, err := as.users.Create(ctx, nil, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	as.log.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

func (as *authService) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := as.users.GetByEmail(ctx, nil, email)
	if err != nil {
		return "", apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("invalid credentials"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return "", apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("invalid credentials"))
	}
	return as.generateAccessToken(u)
}

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (as *authService) generateAccessToken(u *user.User) (string, error) {
	claims := accessClaims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil || !token.Valid {
		return ctx, fmt.Errorf("invalid token")
	}
	actorID, err := uuid.Parse(claims.Subject)
	if err != nil || actorID == uuid.Nil {
		return ctx, fmt.Errorf("invalid token subject")
	}
	if !user.ValidRole(claims.Role) {
		return ctx, fmt.Errorf("invalid token role")
	}
	return requestdata.WithRequestData(ctx, &requestdata.RequestData{
		TokenString: tokenString,
		ActorID:     actorID,
		Role:        claims.Role,
	}), nil
}
