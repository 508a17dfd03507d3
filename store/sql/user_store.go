package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-userhooks/core"
	"github.com/uptrace/bun"
)

const ErrorUserNotFound = "USERHOOKS_USER_NOT_FOUND"

// UserStore is the users table behind core.UserRepository. Database
// failures are reported as DownstreamUnavailable so the calling run retries.
type UserStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewUserStore(db *bun.DB) (*UserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &UserStore{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *UserStore) UpsertUser(ctx context.Context, id string, attrs core.UserAttributes) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.BadInput("sqlstore: user id is required", nil)
	}
	email := strings.TrimSpace(attrs.Email)
	if email == "" {
		return core.BadInput("sqlstore: user email is required", map[string]any{"user_id": id})
	}
	now := s.now()
	record := &userRecord{
		ID:        id,
		Name:      strings.TrimSpace(attrs.Name),
		ImageURL:  strings.TrimSpace(attrs.ImageURL),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("image_url = EXCLUDED.image_url").
		Set("email = EXCLUDED.email").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return core.DownstreamUnavailable(err, "user repository")
	}
	return nil
}

// DeleteUser removes the user. A missing user is not an error.
func (s *UserStore) DeleteUser(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.BadInput("sqlstore: user id is required", nil)
	}
	_, err := s.db.NewDelete().
		Model((*userRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return core.DownstreamUnavailable(err, "user repository")
	}
	return nil
}

func (s *UserStore) GetUser(ctx context.Context, id string) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	id = strings.TrimSpace(id)
	record := &userRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.User{}, goerrors.New("user not found", goerrors.CategoryNotFound).
				WithCode(http.StatusNotFound).
				WithTextCode(ErrorUserNotFound).
				WithMetadata(map[string]any{"user_id": id})
		}
		return core.User{}, core.DownstreamUnavailable(err, "user repository")
	}
	return record.toDomain(), nil
}
