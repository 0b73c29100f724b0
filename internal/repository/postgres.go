package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwell/inkwell-auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository   = (*PostgresUserRepo)(nil)
	_ ClientRepository = (*PostgresClientRepo)(nil)
	_ FamilyRepository = (*PostgresFamilyRepo)(nil)
	_ TokenRepository  = (*PostgresTokenRepo)(nil)
)

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserSQL = `SELECT id, email, password_hash, otp_secret, enabled, login_permitted, email_verified, created_at, updated_at FROM users`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email))
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, userID))
}

const insertUserSQL = `INSERT INTO users (id, email, password_hash, otp_secret, enabled, login_permitted, email_verified)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, email, password_hash, otp_secret, enabled, login_permitted, email_verified, created_at, updated_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.OTPSecret,
		user.Enabled,
		user.LoginPermitted,
		user.EmailVerified,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) SetPassword(ctx context.Context, userID int64, passwordHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		userID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.OTPSecret,
		&u.Enabled,
		&u.LoginPermitted,
		&u.EmailVerified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// PostgresClientRepo implements ClientRepository.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

const selectClientSQL = `SELECT id, name, client_id, client_secret, created_at FROM authorization_clients`

func (r *PostgresClientRepo) GetByClientID(ctx context.Context, clientID string) (domain.AuthorizationClient, error) {
	return scanClient(r.db.QueryRow(ctx, selectClientSQL+` WHERE client_id = $1`, clientID))
}

func (r *PostgresClientRepo) GetByName(ctx context.Context, name string) (domain.AuthorizationClient, error) {
	return scanClient(r.db.QueryRow(ctx, selectClientSQL+` WHERE name = $1`, name))
}

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.AuthorizationClient) (domain.AuthorizationClient, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO authorization_clients (id, name, client_id, client_secret)
VALUES ($1, $2, $3, $4)
RETURNING id, name, client_id, client_secret, created_at`,
		client.ID, client.Name, client.ClientID, client.ClientSecret,
	)
	created, err := scanClient(row)
	if err != nil {
		return domain.AuthorizationClient{}, fmt.Errorf("create client: %w", err)
	}
	return created, nil
}

func scanClient(row pgx.Row) (domain.AuthorizationClient, error) {
	var c domain.AuthorizationClient
	err := row.Scan(&c.ID, &c.Name, &c.ClientID, &c.ClientSecret, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuthorizationClient{}, domain.ErrNotFound
		}
		return domain.AuthorizationClient{}, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

// PostgresFamilyRepo implements FamilyRepository. Token rows reference their
// family with ON DELETE CASCADE, so family deletion revokes every descendant
// token in one statement.
type PostgresFamilyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresFamilyRepo(pool *pgxpool.Pool) *PostgresFamilyRepo {
	return &PostgresFamilyRepo{db: pool}
}

func (r *PostgresFamilyRepo) Create(ctx context.Context, family domain.TokenFamily) (domain.TokenFamily, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO token_families (id, user_id) VALUES ($1, $2)
RETURNING id, user_id, created_at`,
		family.ID, family.UserID,
	)
	var created domain.TokenFamily
	if err := row.Scan(&created.ID, &created.UserID, &created.CreatedAt); err != nil {
		return domain.TokenFamily{}, fmt.Errorf("create token family: %w", err)
	}
	return created, nil
}

func (r *PostgresFamilyRepo) Get(ctx context.Context, familyID int64) (domain.TokenFamily, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, created_at FROM token_families WHERE id = $1`, familyID)
	var family domain.TokenFamily
	if err := row.Scan(&family.ID, &family.UserID, &family.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenFamily{}, domain.ErrNotFound
		}
		return domain.TokenFamily{}, fmt.Errorf("get token family: %w", err)
	}
	return family, nil
}

func (r *PostgresFamilyRepo) Delete(ctx context.Context, familyID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM token_families WHERE id = $1`, familyID)
	if err != nil {
		return fmt.Errorf("delete token family: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresFamilyRepo) DeleteByUser(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM token_families WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete token families by user: %w", err)
	}
	return nil
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

const tokenColumns = `id, token_type, token_family_id, token, is_valid, created_at`

func (r *PostgresTokenRepo) Create(ctx context.Context, token domain.Token) (domain.Token, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO login_tokens (id, token_type, token_family_id, token, is_valid)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+tokenColumns,
		token.ID, token.Type, token.FamilyID, token.Value, token.Valid,
	)
	created, err := scanToken(row)
	if err != nil {
		return domain.Token{}, fmt.Errorf("create token: %w", err)
	}
	return created, nil
}

func (r *PostgresTokenRepo) GetByValue(ctx context.Context, typ domain.TokenType, value string) (domain.Token, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM login_tokens WHERE token_type = $1 AND token = $2`,
		typ, value,
	)
	return scanToken(row)
}

func (r *PostgresTokenRepo) ConsumeCode(ctx context.Context, value string) (domain.Token, error) {
	row := r.db.QueryRow(ctx,
		`DELETE FROM login_tokens WHERE token_type = $1 AND token = $2 RETURNING `+tokenColumns,
		domain.TokenTypeCode, value,
	)
	return scanToken(row)
}

func (r *PostgresTokenRepo) Invalidate(ctx context.Context, tokenID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE login_tokens SET is_valid = false WHERE id = $1 AND is_valid`,
		tokenID,
	)
	if err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresTokenRepo) Delete(ctx context.Context, tokenID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM login_tokens WHERE id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresTokenRepo) PurgeCreatedBefore(ctx context.Context, typ domain.TokenType, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM login_tokens WHERE token_type = $1 AND created_at < $2`,
		typ, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (domain.Token, error) {
	var t domain.Token
	err := row.Scan(&t.ID, &t.Type, &t.FamilyID, &t.Value, &t.Valid, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("scan token: %w", err)
	}
	return t, nil
}
