package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/util"
)

func newAccounts(t *testing.T) *Accounts {
	t.Helper()
	db, err := database.OpenMemory("accounts_" + t.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewAccounts(db, config.JWT{Secret: "secret", ExpireHours: 1})
}

func TestRegisterAndLogin(t *testing.T) {
	a := newAccounts(t)
	ctx := context.Background()

	session, err := a.Register(ctx, Registration{
		Username:  " alice ",
		Password:  "password123",
		Platforms: map[string]string{"oj.uz": "alice_oj", "qoj.ac": ""},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	claims, err := ValidateJWT(session.Token, "secret")
	if err != nil || claims.Subject != session.UserID {
		t.Fatalf("bad token: %v", err)
	}
	user, err := database.GetUserByUsername(a.db, "alice")
	if err != nil || user.Nickname != "alice" {
		t.Fatalf("user not stored: %+v, %v", user, err)
	}
	usernames, err := database.GetPlatformUsernames(a.db, session.UserID)
	if err != nil || len(usernames) != 1 || usernames["oj.uz"] != "alice_oj" {
		t.Fatalf("platforms = %v, %v", usernames, err)
	}

	if _, err := a.Login(ctx, "alice", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "password124"},
		{"unknown user", "bob", "password123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Login(ctx, tt.username, tt.password); !errors.Is(err, util.ErrInvalidCredentials) {
				t.Fatalf("expected invalid credentials, got %v", err)
			}
		})
	}
}

func TestRegisterRejects(t *testing.T) {
	a := newAccounts(t)
	ctx := context.Background()
	if _, err := a.Register(ctx, Registration{Username: "alice", Password: "password123"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		reg  Registration
		want error
	}{
		{"short username", Registration{Username: "al", Password: "password123"}, util.ErrValidation},
		{"spaces in username", Registration{Username: "a b c", Password: "password123"}, util.ErrValidation},
		{"short password", Registration{Username: "bob", Password: "12345"}, util.ErrValidation},
		{"unknown platform", Registration{Username: "bob", Password: "password123", Platforms: map[string]string{"atcoder": "bob"}}, util.ErrValidation},
		{"taken username", Registration{Username: "alice", Password: "password123", Platforms: map[string]string{"oj.uz": "x"}}, util.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Register(ctx, tt.reg); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	var settings int64
	a.db.Model(&models.UserSettings{}).Count(&settings)
	if settings != 0 {
		t.Fatalf("rejected registrations left %d settings rows", settings)
	}
}

func TestLoginGitHubAccount(t *testing.T) {
	a := newAccounts(t)
	githubID := "42"
	if err := database.CreateUser(a.db, &models.User{ID: "u1", GitHubID: &githubID, Username: "octo"}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Login(context.Background(), "octo", ""); !errors.Is(err, util.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}
