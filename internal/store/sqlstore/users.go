package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/store"
)

type userRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) toDomain() domain.UserAccount {
	return domain.UserAccount{
		User: domain.User{
			ID:        r.ID,
			Name:      r.Name,
			Email:     r.Email,
			Role:      r.Role,
			CreatedAt: r.CreatedAt,
		},
		Password: r.Password,
	}
}

const userColumns = `id, name, email, password, role, created_at`

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	id, err := s.insert(ctx, s.db, `
		INSERT INTO users (name, email, password, role, created_at)
		VALUES (?,?,?,?,?)
	`, user.Name, user.Email, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		return nil, err
	}
	user.ID = id
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	return s.getUser(ctx, `LOWER(email) = LOWER(?)`, email)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error) {
	user, err := s.getUser(ctx, `id = ?`, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.NotFound("user", id)
	}
	return user, err
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*domain.UserAccount, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE `+where), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user := row.toDomain()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toDomain())
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE users
		SET name = ?, email = ?, password = ?, role = ?
		WHERE id = ?
	`), user.Name, user.Email, user.Password, user.Role, user.ID)
	if err != nil {
		return nil, classify(err)
	}
	// MySQL reports zero affected rows for a no-op update, so existence is
	// confirmed by reading the row back.
	return s.GetUserByID(ctx, user.ID)
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "users", "user", id)
}
