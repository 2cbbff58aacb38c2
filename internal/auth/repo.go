package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"reelhub/internal/recordstore"
	"reelhub/internal/shard"
	"reelhub/pkg/models"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

var accountShardNamePrefix = shard.AccountPolicy(0).Prefix

// User is an account record.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Shard        string
}

// Repo stores accounts in capacity-selected account shards and provisions
// each user's history shard.
type Repo struct {
	store    recordstore.Store
	selector *shard.Selector
	accounts models.Domain
	history  models.Domain
	capacity int
	logger   *logrus.Logger
}

func NewRepo(store recordstore.Store, sel *shard.Selector, accounts, history models.Domain, capacity int, logger *logrus.Logger) *Repo {
	if logger == nil {
		logger = logrus.New()
	}
	return &Repo{
		store:    store,
		selector: sel,
		accounts: accounts,
		history:  history,
		capacity: capacity,
		logger:   logger,
	}
}

// CreateUser writes the account into the first account shard with room,
// failing with ErrUsernameTaken when any shard already holds the username.
func (r *Repo) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	policy := shard.AccountPolicy(r.capacity)
	policy.Visit = func(_ models.Collection, records []models.Record) error {
		for _, rec := range records {
			if rec.Fields.String(models.FieldUsername) == username {
				return ErrUsernameTaken
			}
		}
		return nil
	}

	var u User
	err := r.selector.WithWriteShard(ctx, r.accounts, policy, "", func(h shard.Handle) error {
		rec, err := r.store.CreateRecord(ctx, r.accounts, h.Collection.ID, models.Fields{
			models.FieldUsername: username,
			models.FieldPassword: passwordHash,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		u = User{ID: rec.ID, Username: username, PasswordHash: passwordHash, Shard: h.Collection.Name}
		return nil
	})
	if err != nil {
		return User{}, err
	}

	r.logger.WithFields(logrus.Fields{"username": username, "shard": u.Shard}).Info("user added")
	return u, nil
}

// EnsureHistory makes sure the user's history shard exists.
func (r *Repo) EnsureHistory(ctx context.Context, username string) error {
	h, err := r.selector.SelectOrCreateWriteShard(ctx, r.history, shard.HistoryPolicy(), username)
	if err != nil {
		return fmt.Errorf("history shard for %s: %w", username, err)
	}
	if h.Created {
		r.logger.WithField("username", username).Info("history shard created")
	}
	return nil
}

// GetByUsername scans account shards in listing order. It returns nil, nil
// when no account matches.
func (r *Repo) GetByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	cols, err := r.store.ListCollections(ctx, r.accounts)
	if err != nil {
		return nil, fmt.Errorf("get by username: %w", err)
	}

	for _, c := range cols {
		if !strings.Contains(strings.ToLower(c.Name), accountShardNamePrefix) {
			continue
		}
		records, err := r.store.ListRecords(ctx, r.accounts, c.ID)
		if err != nil {
			return nil, fmt.Errorf("get by username: shard %s: %w", c.Name, err)
		}
		for _, rec := range records {
			if rec.Fields.String(models.FieldUsername) == username {
				return &User{
					ID:           rec.ID,
					Username:     username,
					PasswordHash: rec.Fields.String(models.FieldPassword),
					Shard:        c.Name,
				}, nil
			}
		}
	}
	return nil, nil
}

// Verify returns the user when password matches the stored hash, and
// ErrInvalidCredentials when the user is unknown or the password is wrong.
func (r *Repo) Verify(ctx context.Context, username, password string) (*User, error) {
	u, err := r.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
