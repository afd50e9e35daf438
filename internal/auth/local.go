package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/judge"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minPasswordLength = 6

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Accounts registers and signs in users with a username and password.
type Accounts struct {
	db  *gorm.DB
	jwt config.JWT
}

func NewAccounts(db *gorm.DB, cfg config.JWT) *Accounts {
	return &Accounts{db: db, jwt: cfg}
}

// Registration is a new local account. Platforms links judge usernames right
// away, e.g. {"oj.uz": "alice"}, so the first virtual contest can sync.
type Registration struct {
	Username  string            `json:"username"`
	Password  string            `json:"password"`
	Nickname  string            `json:"nickname"`
	Platforms map[string]string `json:"platforms"`
}

func (r *Registration) normalize() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Nickname = strings.TrimSpace(r.Nickname)
	if !usernameRe.MatchString(r.Username) {
		return fmt.Errorf("username must be 3 to 32 letters, digits, '.', '_' or '-': %w", util.ErrValidation)
	}
	if len(r.Password) < minPasswordLength {
		return fmt.Errorf("password must have at least %d characters: %w", minPasswordLength, util.ErrValidation)
	}
	if r.Nickname == "" {
		r.Nickname = r.Username
	}
	for platform, name := range r.Platforms {
		if !judge.Known(platform) {
			return fmt.Errorf("unknown platform %q: %w", platform, util.ErrValidation)
		}
		r.Platforms[platform] = strings.TrimSpace(name)
	}
	return nil
}

// Session is what a successful sign-in hands to the client.
type Session struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Register creates the user and its platform settings in one transaction and
// signs it in.
func (a *Accounts) Register(ctx context.Context, reg Registration) (*Session, error) {
	if err := reg.normalize(); err != nil {
		return nil, err
	}
	hash, err := HashPassword(reg.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		ID:           uuid.NewString(),
		Username:     reg.Username,
		PasswordHash: hash,
		Nickname:     reg.Nickname,
	}

	platforms := make([]string, 0, len(reg.Platforms))
	for platform := range reg.Platforms {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.CreateUser(tx, &user); err != nil {
			return err
		}
		for _, platform := range platforms {
			if _, err := database.SetPlatformUsername(tx, user.ID, platform, reg.Platforms[platform]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infof("new local user registered: %s (%d linked judges)", user.Username, len(platforms))
	return a.session(&user)
}

// Login checks the password of a local account. Unknown users and wrong
// passwords are reported alike.
func (a *Accounts) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := database.GetUserByUsername(a.db.WithContext(ctx), strings.TrimSpace(username))
	if errors.Is(err, util.ErrNotFound) {
		return nil, fmt.Errorf("invalid username or password: %w", util.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, fmt.Errorf("this account signs in with GitHub: %w", util.ErrInvalidCredentials)
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		return nil, fmt.Errorf("invalid username or password: %w", util.ErrInvalidCredentials)
	}
	return a.session(user)
}

func (a *Accounts) session(user *models.User) (*Session, error) {
	token, err := GenerateJWT(user.ID, a.jwt.Secret, a.jwt.ExpireHours)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{UserID: user.ID, Username: user.Username, Token: token}, nil
}
