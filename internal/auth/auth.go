package auth

import (
	"c4chat/internal/api/respond"
	"c4chat/internal/app"
	"c4chat/internal/logger"
	"c4chat/internal/repository/db"
	"c4chat/pkg/validation"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

// UserIDContextKey holds the authenticated user's id on the request context
const UserIDContextKey contextKey = "user_id"

// NotAuthenticatedMessage is the plain-text body of a rejected request
const NotAuthenticatedMessage = "Forbidden: User not authenticated"

type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Auth issues and verifies bearer tokens and serves the account endpoints
type Auth struct {
	config    *app.Config
	validator *validation.AuthRequestValidator
	now       func() time.Time
}

// New creates an Auth bound to the application config
func New(config *app.Config) *Auth {
	return &Auth{
		config:    config,
		validator: validation.NewAuthRequestValidator(),
		now:       time.Now,
	}
}

// GenerateToken signs a token for user
func (a *Auth) GenerateToken(user *db.User) (string, error) {
	now := a.now()
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.AppConfig.Auth.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.config.AppConfig.Auth.JWTSecret)
}

// ValidateToken parses a token and verifies its signature and expiry
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.config.AppConfig.Auth.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword checks if the provided password matches the user's hashed password
func VerifyPassword(user *db.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// LoginHandler authenticates user and returns JWT token
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req validation.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, "Invalid request body")
		return
	}
	if err := a.validator.ValidateLoginRequest(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, err.Error())
		return
	}

	user, err := a.config.DB.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logger.Log.WithError(err).Error("Error loading user for login")
			respond.Error(w, http.StatusInternalServerError, respond.CodeServerError, "Error logging in")
			return
		}
		logger.Log.WithField("username", req.Username).Info("Login failed: user not found")
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "Invalid credentials")
		return
	}

	if !VerifyPassword(user, req.Password) {
		logger.Log.WithField("username", req.Username).Info("Login failed: invalid password")
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "Invalid credentials")
		return
	}

	a.sendToken(w, http.StatusOK, user)
	logger.Log.WithField("user_id", user.ID).Info("User logged in")
}

// RegisterHandler creates a new user account holding the current period's allowance
func (a *Auth) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req validation.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, "Invalid request body")
		return
	}
	if err := a.validator.ValidateRegisterRequest(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, err.Error())
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		logger.Log.WithError(err).Error("Error hashing password")
		respond.Error(w, http.StatusInternalServerError, respond.CodeServerError, "Error creating user")
		return
	}

	user := &db.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	a.config.Ledger.InitialGrant(user)

	created, err := a.config.DB.CreateUser(r.Context(), user)
	if err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			respond.Error(w, http.StatusConflict, respond.CodeAlreadyExists, "Username or email already exists")
			return
		}
		logger.Log.WithError(err).WithField("username", req.Username).Error("Registration failed")
		respond.Error(w, http.StatusInternalServerError, respond.CodeServerError, "Error creating user")
		return
	}

	a.sendToken(w, http.StatusCreated, created)
	logger.Log.WithFields(logrus.Fields{"user_id": created.ID, "username": created.Username}).Info("User registered")
}

func (a *Auth) sendToken(w http.ResponseWriter, status int, user *db.User) {
	token, err := a.GenerateToken(user)
	if err != nil {
		logger.Log.WithError(err).Error("Error generating token")
		respond.Error(w, http.StatusInternalServerError, respond.CodeServerError, "Error generating token")
		return
	}
	respond.JSON(w, status, LoginResponse{Token: token, UserID: user.ID, Username: user.Username})
}

// Middleware rejects requests without a valid bearer token and puts the
// user id on the request context
func (a *Auth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			forbidden(w)
			return
		}

		claims, err := a.ValidateToken(token)
		if err != nil {
			logger.Log.WithError(err).Debug("Rejected bearer token")
			forbidden(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
	}
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(NotAuthenticatedMessage))
}

// WithUserID returns a context carrying userID
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// UserIDFromContext returns the authenticated user id, if any
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	return userID, ok && userID != ""
}
