package handlers

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maruel/gitwiki/internal/errors"
	"github.com/maruel/gitwiki/internal/models"
	"github.com/maruel/gitwiki/internal/storage/identity"
)

// tokenLifetime is the validity of issued tokens.
const tokenLifetime = 24 * time.Hour

// AuthHandler handles authentication requests.
type AuthHandler struct {
	userService       *identity.UserService
	jwtSecret         []byte
	allowRegistration bool
}

// NewAuthHandler creates a new auth handler. When allowRegistration is false
// only the first account can register.
func NewAuthHandler(userService *identity.UserService, jwtSecret []byte, allowRegistration bool) *AuthHandler {
	return &AuthHandler{
		userService:       userService,
		jwtSecret:         jwtSecret,
		allowRegistration: allowRegistration,
	}
}

// LoginRequest is a request to log in.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is a response from logging in.
type LoginResponse struct {
	Token string       `json:"token" jsonschema:"description=HS256 bearer token"`
	User  *models.User `json:"user"`
}

// RegisterRequest is a request to register a new user.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password" jsonschema:"minLength=8"`
	Name     string `json:"name" jsonschema:"description=Recorded as the commit author"`
}

// Login handles user login and returns a JWT token.
func (h *AuthHandler) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, errors.MissingField("email or password")
	}
	user, err := h.userService.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if stderrors.Is(err, identity.ErrInvalidCredentials) {
			return nil, errors.Unauthorized("Invalid credentials")
		}
		return nil, errors.InternalWithError("Failed to authenticate", err)
	}
	return h.respond(user)
}

// Register handles user registration. The first user becomes admin.
func (h *AuthHandler) Register(ctx context.Context, req RegisterRequest) (*LoginResponse, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return nil, errors.MissingField("email, password, or name")
	}
	if !h.allowRegistration {
		n, err := h.userService.CountUsers(ctx)
		if err != nil {
			return nil, errors.InternalWithError("Failed to count users", err)
		}
		if n != 0 {
			return nil, errors.Forbidden("Registration is closed")
		}
	}
	user, err := h.userService.CreateUser(ctx, req.Email, req.Password, req.Name)
	switch {
	case stderrors.Is(err, identity.ErrExists):
		return nil, errors.Conflict("User already exists")
	case stderrors.Is(err, identity.ErrInvalid):
		return nil, errors.BadRequest(err.Error())
	case err != nil:
		return nil, errors.InternalWithError("Failed to create user", err)
	}
	return h.respond(user)
}

func (h *AuthHandler) respond(user *models.User) (*LoginResponse, error) {
	token, err := h.GenerateToken(user)
	if err != nil {
		return nil, errors.InternalWithError("Failed to generate token", err)
	}
	return &LoginResponse{Token: token, User: user}, nil
}

// GenerateToken signs a token for user.
func (h *AuthHandler) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"role":  string(user.Role),
		"exp":   now.Add(tokenLifetime).Unix(),
		"iat":   now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// MeRequest is a request to get current user info.
type MeRequest struct{}

// Me returns the current user info from the context.
func (h *AuthHandler) Me(ctx context.Context, req MeRequest) (*models.User, error) {
	user := models.UserFromContext(ctx)
	if user == nil {
		return nil, errors.Unauthorized("Unauthorized")
	}
	return user, nil
}
