package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/store"
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	now       func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	DeleteUser(ctx context.Context, id int64) error
}

type tokenClaims struct {
	jwtlib.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

var errInvalidCredentials = fmt.Errorf("%w: invalid email or password", store.ErrUnauthorized)

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap upgrades legacy plain-text passwords to bcrypt hashes and, when
// no admin account exists yet, creates one from the seed credentials.
func (a *AuthManager) Bootstrap(ctx context.Context, seedEmail string, seedPassword string) error {
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return err
	}

	hasAdmin := false
	for _, user := range users {
		if user.Role == domain.RoleAdmin {
			hasAdmin = true
		}
		if isPasswordHash(user.Password) {
			continue
		}
		hashed, err := hashPassword(user.Password)
		if err != nil {
			return err
		}
		user.Password = hashed
		if _, err := a.userStore.UpdateUser(ctx, user); err != nil {
			return fmt.Errorf("upgrade password for user %d: %w", user.ID, err)
		}
		log.Printf("[auth] upgraded legacy password for user id=%d", user.ID)
	}

	seedEmail = strings.ToLower(strings.TrimSpace(seedEmail))
	if hasAdmin || seedEmail == "" || seedPassword == "" {
		if !hasAdmin {
			log.Println("[auth] WARNING: no admin account exists. Set SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD to create one.")
		}
		return nil
	}

	hashed, err := hashPassword(seedPassword)
	if err != nil {
		return err
	}
	_, err = a.userStore.CreateUser(ctx, domain.UserAccount{
		User: domain.User{
			Name:      "Admin",
			Email:     seedEmail,
			Role:      domain.RoleAdmin,
			CreatedAt: a.now(),
		},
		Password: hashed,
	})
	if err != nil {
		return fmt.Errorf("create seed admin: %w", err)
	}
	log.Printf("[auth] created seed admin %s", seedEmail)
	return nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return domain.LoginResponse{}, store.Validation("email and password are required")
	}

	account, err := a.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, errInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(account.User, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		User:      account.User,
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &tokenClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, fmt.Errorf("%w: invalid or expired token", store.ErrUnauthorized)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, fmt.Errorf("%w: invalid token subject", store.ErrUnauthorized)
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: invalid token subject", store.ErrUnauthorized)
	}
	return domain.Actor{ID: id, Name: claims.Name, Email: claims.Email, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tokokami",
		},
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleCashier
	}

	if name == "" {
		return domain.User{}, store.Validation("name is required")
	}
	if err := validateEmail(email); err != nil {
		return domain.User{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return domain.User{}, err
	}
	if !isKnownRole(role) {
		return domain.User{}, store.Validation("role must be admin or cashier")
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	created, err := a.userStore.CreateUser(ctx, domain.UserAccount{
		User: domain.User{
			Name:      name,
			Email:     email,
			Role:      role,
			CreatedAt: a.now(),
		},
		Password: hashed,
	})
	if err != nil {
		return domain.User{}, err
	}
	return created.User, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.User, error) {
	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, account.User)
	}
	return users, nil
}

// UpdateUser applies a partial update. Anyone may edit their own name, email
// and password; only admins may edit other accounts or change a role.
func (a *AuthManager) UpdateUser(ctx context.Context, actor domain.Actor, id int64, req domain.UserUpdateRequest) (domain.User, error) {
	isAdmin := actor.Role == domain.RoleAdmin
	if actor.ID != id && !isAdmin {
		return domain.User{}, fmt.Errorf("%w: cannot modify another user", store.ErrForbidden)
	}
	if req.Role != nil && !isAdmin {
		return domain.User{}, fmt.Errorf("%w: only admins can change roles", store.ErrForbidden)
	}

	account, err := a.userStore.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.User{}, store.Validation("name must not be blank")
		}
		account.Name = name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if err := validateEmail(email); err != nil {
			return domain.User{}, err
		}
		account.Email = email
	}
	if req.Password != nil {
		if err := validatePassword(*req.Password); err != nil {
			return domain.User{}, err
		}
		hashed, err := hashPassword(*req.Password)
		if err != nil {
			return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
		}
		account.Password = hashed
	}
	if req.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*req.Role))
		if !isKnownRole(role) {
			return domain.User{}, store.Validation("role must be admin or cashier")
		}
		account.Role = role
	}

	updated, err := a.userStore.UpdateUser(ctx, *account)
	if err != nil {
		return domain.User{}, err
	}
	return updated.User, nil
}

func (a *AuthManager) DeleteUser(ctx context.Context, actor domain.Actor, id int64) error {
	if actor.ID == id {
		return store.Validation("cannot delete your own account")
	}
	return a.userStore.DeleteUser(ctx, id)
}

func validateEmail(email string) error {
	if email == "" || !strings.Contains(email, "@") {
		return store.Validation("a valid email is required")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 {
		return store.Validation("password must be at least 6 characters")
	}
	return nil
}

func isKnownRole(role string) bool {
	return role == domain.RoleAdmin || role == domain.RoleCashier
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
