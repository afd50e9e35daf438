package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/kv"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"gorm.io/gorm"
)

const (
	stateTTL    = 10 * time.Minute
	statePrefix = "oauth-state:"
)

type GitHubHandler struct {
	cfg    *config.Config
	db     *gorm.DB
	states kv.Store
	oauth2 *oauth2.Config
	apiURL string
}

type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

func NewGitHubHandler(cfg *config.Config, db *gorm.DB, states kv.Store) *GitHubHandler {
	return &GitHubHandler{
		cfg:    cfg,
		db:     db,
		states: states,
		oauth2: &oauth2.Config{
			ClientID:     cfg.Auth.GitHub.ClientID,
			ClientSecret: cfg.Auth.GitHub.ClientSecret,
			RedirectURL:  cfg.Auth.GitHub.RedirectURI,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user"},
		},
		apiURL: "https://api.github.com",
	}
}

func (h *GitHubHandler) Enabled() bool {
	return h.oauth2.ClientID != ""
}

// Login stores a one-time state token and redirects to GitHub.
func (h *GitHubHandler) Login(c *gin.Context) {
	state := uuid.NewString()
	if err := h.states.Set(c.Request.Context(), statePrefix+state, "1", stateTTL); err != nil {
		util.Error(c, http.StatusInternalServerError, "failed to store oauth state")
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, h.oauth2.AuthCodeURL(state))
}

func (h *GitHubHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	state := c.Query("state")
	if state == "" {
		util.Error(c, http.StatusBadRequest, "missing oauth state")
		return
	}
	// a state is valid for exactly one callback
	if _, err := h.states.Take(ctx, statePrefix+state); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			util.Error(c, http.StatusBadRequest, "invalid or expired oauth state")
		} else {
			util.Error(c, http.StatusInternalServerError, err)
		}
		return
	}

	token, err := h.oauth2.Exchange(ctx, c.Query("code"))
	if err != nil {
		util.Error(c, http.StatusUnauthorized, "failed to exchange token: "+err.Error())
		return
	}

	ghUser, err := h.fetchUser(c, token)
	if err != nil {
		util.Error(c, http.StatusBadGateway, "failed to get user info: "+err.Error())
		return
	}

	user, err := h.findOrCreate(ghUser)
	if err != nil {
		util.Fail(c, err)
		return
	}

	jwtToken, err := GenerateJWT(user.ID, h.cfg.Auth.JWT.Secret, h.cfg.Auth.JWT.ExpireHours)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, "failed to generate JWT")
		return
	}

	if target := h.cfg.Auth.GitHub.FrontendCallbackURL; target != "" {
		c.Redirect(http.StatusTemporaryRedirect, target+"?token="+url.QueryEscape(jwtToken))
		return
	}
	util.Success(c, gin.H{"token": jwtToken}, "Login successful")
}

func (h *GitHubHandler) fetchUser(c *gin.Context, token *oauth2.Token) (*GitHubUser, error) {
	client := h.oauth2.Client(c.Request.Context(), token)
	resp, err := client.Get(h.apiURL + "/user")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github returned %s", resp.Status)
	}

	var ghUser GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&ghUser); err != nil {
		return nil, err
	}
	if ghUser.ID == 0 || ghUser.Login == "" {
		return nil, errors.New("incomplete github profile")
	}
	return &ghUser, nil
}

func (h *GitHubHandler) findOrCreate(ghUser *GitHubUser) (*models.User, error) {
	githubID := strconv.FormatInt(ghUser.ID, 10)
	user, err := database.GetUserByGitHubID(h.db, githubID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, util.ErrNotFound) {
		return nil, err
	}

	newUser := models.User{
		ID:       uuid.NewString(),
		GitHubID: &githubID,
		Username: ghUser.Login,
		Nickname: ghUser.Name,
	}
	if newUser.Nickname == "" {
		newUser.Nickname = ghUser.Login
	}
	// a local account may already hold the login name
	if _, err := database.GetUserByUsername(h.db, newUser.Username); err == nil {
		newUser.Username = ghUser.Login + "-gh" + githubID
	}
	if err := database.CreateUser(h.db, &newUser); err != nil {
		return nil, err
	}
	zap.S().Infof("new user registered via github: %s", newUser.Username)
	return &newUser, nil
}
