package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"reelhub/internal/apierr"
)

type Handler struct {
	Repo       *Repo
	Tokens     TokenService
	BcryptCost int
	Log        *logrus.Logger
}

func NewHandler(repo *Repo, tokens TokenService, bcryptCost int, log *logrus.Logger) *Handler {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Handler{Repo: repo, Tokens: tokens, BcryptCost: bcryptCost, Log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/signup", h.signup)
	rg.POST("/login", h.login)
	rg.GET("/me", AuthMiddleware(h.Tokens), h.me)
}

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *credentialsReq) bind(c *gin.Context) bool {
	if err := c.ShouldBindJSON(r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" || r.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required."})
		return false
	}
	return true
}

func (h *Handler) signup(c *gin.Context) {
	var req credentialsReq
	if !req.bind(c) {
		return
	}
	// bcrypt ignores input past 72 bytes
	if len(req.Password) > 72 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at most 72 bytes"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.BcryptCost)
	if err != nil {
		apierr.Abort(c, h.Log, apierr.New(http.StatusInternalServerError, "hash failed", err))
		return
	}

	// The history shard goes first: it is idempotent, so a failed signup can
	// be retried, while an account without a shard could never record history.
	ctx := c.Request.Context()
	if err := h.Repo.EnsureHistory(ctx, req.Username); err != nil {
		apierr.Abort(c, h.Log, err)
		return
	}
	if _, err := h.Repo.CreateUser(ctx, req.Username, string(hash)); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already taken."})
			return
		}
		apierr.Abort(c, h.Log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully."})
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsReq
	if !req.bind(c) {
		return
	}

	u, err := h.Repo.Verify(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password."})
		return
	}
	if err != nil {
		apierr.Abort(c, h.Log, err)
		return
	}

	token, exp, err := h.Tokens.Sign(u)
	if err != nil {
		apierr.Abort(c, h.Log, apierr.New(http.StatusInternalServerError, "token failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful.",
		"token":   token,
		"user": gin.H{
			"id":       u.ID,
			"username": u.Username,
		},
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) me(c *gin.Context) {
	claims := MustGetClaims(c)
	c.JSON(http.StatusOK, gin.H{
		"id":       claims.UserID,
		"username": claims.Username,
		"shard":    claims.Shard,
	})
}
