package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// UserRepository persists one User per email.
// FindByEmail returns (nil, nil) when no user exists.
// Create fails with ErrDuplicate when the email is taken.
// Update requires u.Revision to match the stored revision and fails with ErrConflict otherwise;
// on success u.Revision holds the new revision.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
}

// VerificationRepository holds at most one pending Verification per (email, purpose).
// Consume deletes and returns the record only if the code hash matches and it has not
// expired at now; otherwise it returns (nil, nil) and leaves the record untouched.
// Withdraw deletes the record only while it still carries codeHash, so a newer code is kept.
// Reinstate puts a consumed record back unless a newer one was issued in the meantime.
type VerificationRepository interface {
	Issue(ctx context.Context, v *Verification) error
	Consume(ctx context.Context, email string, purpose Purpose, codeHash string, now time.Time) (*Verification, error)
	Withdraw(ctx context.Context, email string, purpose Purpose, codeHash string) error
	Reinstate(ctx context.Context, v *Verification) error
}

// PgxQuerier is the subset of *pgxpool.Pool the Postgres repositories use.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgUniqueViolation = "23505"

type PostgresUserRepository struct {
	DB PgxQuerier
}

func NewPostgresUserRepository(db PgxQuerier) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT "email","password","profile","revision","created_at","updated_at"
		FROM "users"
		WHERE "email"=$1
	`
	row := r.DB.QueryRow(ctx, query, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *PostgresUserRepository) Create(ctx context.Context, u *User) error {
	profile, err := json.Marshal(u.Profile)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.DB.Exec(ctx, `
		INSERT INTO "users" ("email","password","profile","revision","created_at","updated_at")
		VALUES ($1,$2,$3,1,$4,$4)
	`, u.Email, u.PasswordHash, profile, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	u.Revision = 1
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, u *User) error {
	profile, err := json.Marshal(u.Profile)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	row := r.DB.QueryRow(ctx, `
		UPDATE "users"
		SET "password"=$1, "profile"=$2, "revision"="revision"+1, "updated_at"=$3
		WHERE "email"=$4 AND "revision"=$5
		RETURNING "revision"
	`, u.PasswordHash, profile, now, u.Email, u.Revision)

	var rev int64
	if err := row.Scan(&rev); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		current, ferr := r.FindByEmail(ctx, u.Email)
		if ferr != nil {
			return ferr
		}
		if current == nil {
			return ErrNotFound
		}
		return ErrConflict
	}
	u.Revision = rev
	u.UpdatedAt = now
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u       User
		profile []byte
	)
	if err := row.Scan(&u.Email, &u.PasswordHash, &profile, &u.Revision, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &u.Profile); err != nil {
			return nil, err
		}
	}
	u.Profile = u.Profile.withDefaults()
	return &u, nil
}

type PostgresVerificationRepository struct {
	DB PgxQuerier
}

func NewPostgresVerificationRepository(db PgxQuerier) *PostgresVerificationRepository {
	return &PostgresVerificationRepository{DB: db}
}

func (r *PostgresVerificationRepository) Issue(ctx context.Context, v *Verification) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO "verifications" ("email","purpose","code","password","issued_at","expires_at")
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT ("email","purpose") DO UPDATE
		SET "code"=EXCLUDED."code",
		    "password"=EXCLUDED."password",
		    "issued_at"=EXCLUDED."issued_at",
		    "expires_at"=EXCLUDED."expires_at"
	`, v.Email, string(v.Purpose), v.CodeHash, v.PasswordHash, v.IssuedAt, v.ExpiresAt)
	return err
}

func (r *PostgresVerificationRepository) Consume(ctx context.Context, email string, purpose Purpose, codeHash string, now time.Time) (*Verification, error) {
	row := r.DB.QueryRow(ctx, `
		DELETE FROM "verifications"
		WHERE "email"=$1 AND "purpose"=$2 AND "code"=$3 AND "expires_at" > $4
		RETURNING "password","issued_at","expires_at"
	`, email, string(purpose), codeHash, now)

	v := Verification{Email: email, Purpose: purpose, CodeHash: codeHash}
	if err := row.Scan(&v.PasswordHash, &v.IssuedAt, &v.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (r *PostgresVerificationRepository) Withdraw(ctx context.Context, email string, purpose Purpose, codeHash string) error {
	_, err := r.DB.Exec(ctx, `
		DELETE FROM "verifications"
		WHERE "email"=$1 AND "purpose"=$2 AND "code"=$3
	`, email, string(purpose), codeHash)
	return err
}

func (r *PostgresVerificationRepository) Reinstate(ctx context.Context, v *Verification) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO "verifications" ("email","purpose","code","password","issued_at","expires_at")
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT ("email","purpose") DO NOTHING
	`, v.Email, string(v.Purpose), v.CodeHash, v.PasswordHash, v.IssuedAt, v.ExpiresAt)
	return err
}
