package user

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateRider(ctx context.Context, rider *Rider) (*Rider, error) {
	query := "INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id"

	if err := r.db.QueryRowContext(ctx, query, rider.Username, rider.Password).Scan(&rider.ID); err != nil {
		return nil, errors.Wrapf(err, "create rider %q", rider.Username)
	}
	return rider, nil
}

func (r *Repository) GetRiderByUsername(ctx context.Context, username string) (*Rider, error) {
	u := &Rider{}
	query := "SELECT id, username, password FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "get rider")
	}
	return u, nil
}
