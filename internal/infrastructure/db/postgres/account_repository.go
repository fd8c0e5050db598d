package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/accounts-api/internal/core/domain"
	"github.com/storefront/accounts-api/internal/core/ports"
)

const uniqueViolation = "23505"

const accountColumns = `id, name, last_name, email, secret_hash, role, status,
	refresh_token_hash, birth_date, created_at, updated_at`

// AccountRepository stores accounts in PostgreSQL. The pool is owned by the
// caller.
type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (name, last_name, email, secret_hash, role, status,
			refresh_token_hash, birth_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + accountColumns

	row := r.db.QueryRow(ctx, query,
		account.Name,
		account.LastName,
		account.Email,
		account.SecretHash,
		account.Role,
		string(account.Status),
		nullable(account.RefreshTokenHash),
		account.BirthDate,
		account.CreatedAt,
		account.UpdatedAt,
	)
	created, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("%w: insert account: %w", domain.ErrRepository, err)
	}
	return created, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: find account %d: %w", domain.ErrRepository, id, err)
	}
	return account, nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find account by email: %w", domain.ErrRepository, err)
	}
	return account, nil
}

// Update merges the non-nil fields of changes. updated_at moves to now, or
// one microsecond past its previous value when the clock has not advanced.
// With an expected refresh hash the row is matched on it too, so a missing
// row then means the session was already rotated.
func (r *AccountRepository) Update(ctx context.Context, id int64, changes ports.AccountUpdate) (*domain.Account, error) {
	query := `
		UPDATE accounts SET
			name               = COALESCE($2, name),
			last_name          = COALESCE($3, last_name),
			email              = COALESCE($4, email),
			secret_hash        = COALESCE($5, secret_hash),
			status             = COALESCE($6, status),
			refresh_token_hash = COALESCE($7, refresh_token_hash),
			birth_date         = COALESCE($8, birth_date),
			updated_at         = GREATEST(now(), updated_at + interval '1 microsecond')
		WHERE id = $1
		  AND ($9::text IS NULL OR refresh_token_hash = $9)
		RETURNING ` + accountColumns

	var status *string
	if changes.Status != nil {
		s := string(*changes.Status)
		status = &s
	}

	row := r.db.QueryRow(ctx, query,
		id,
		changes.Name,
		changes.LastName,
		changes.Email,
		changes.SecretHash,
		status,
		changes.RefreshTokenHash,
		changes.BirthDate,
		changes.ExpectedRefreshTokenHash,
	)
	updated, err := scanAccount(row)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, pgx.ErrNoRows) && changes.ExpectedRefreshTokenHash != nil:
		return nil, domain.ErrSessionRotated
	case errors.Is(err, pgx.ErrNoRows):
		return nil, domain.ErrAccountNotFound
	case isUniqueViolation(err):
		return nil, domain.ErrEmailTaken
	default:
		return nil, fmt.Errorf("%w: update account %d: %w", domain.ErrRepository, id, err)
	}
}

func (r *AccountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts: %w", domain.ErrRepository, err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan account: %w", domain.ErrRepository, err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list accounts: %w", domain.ErrRepository, err)
	}
	return accounts, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a           domain.Account
		status      string
		refreshHash *string
		birthDate   *time.Time
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.LastName, &a.Email, &a.SecretHash, &a.Role, &status,
		&refreshHash, &birthDate, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AccountStatus(status)
	if refreshHash != nil {
		a.RefreshTokenHash = *refreshHash
	}
	if birthDate != nil {
		bd := birthDate.UTC()
		a.BirthDate = &bd
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
