package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
)

// PostgresStore implements AdminRegistry on a Postgres table, with default
// analysis parameters stored as jsonb so the row still reads like a document
// keyed by engine id (spec §3, SPEC_FULL §11.1).
type PostgresStore struct {
	db *sqlx.DB
}

var _ AdminRegistry = (*PostgresStore)(nil)

// Open connects to Postgres at dsn and verifies the connection with a ping.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.Internal("open postgres", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperrors.Internal("ping postgres", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an already-open handle, used by tests against
// go-sqlmock.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies the database connection is still reachable, used by the
// /ready handler (SPEC_FULL §11.7).
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type registrationRow struct {
	EngineID           string    `db:"engine_id"`
	UserID             string    `db:"user_id"`
	DisplayName        string    `db:"display_name"`
	ClientSecretHash   string    `db:"client_secret_hash"`
	ProviderSecretHash string    `db:"provider_secret_hash"`
	Params             []byte    `db:"params"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (row registrationRow) toRegistration() (*EngineRegistration, error) {
	var params Params
	if len(row.Params) > 0 {
		if err := json.Unmarshal(row.Params, &params); err != nil {
			return nil, apperrors.Internal("decode registration params", err)
		}
	}
	return &EngineRegistration{
		EngineID:           row.EngineID,
		UserID:             row.UserID,
		DisplayName:        row.DisplayName,
		ClientSecretHash:   row.ClientSecretHash,
		ProviderSecretHash: row.ProviderSecretHash,
		Params:             params,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

// Lookup is the only operation the core Broker calls (spec §6).
func (s *PostgresStore) Lookup(ctx context.Context, engineID string) (*EngineRegistration, error) {
	var row registrationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT engine_id, user_id, display_name, client_secret_hash, provider_secret_hash, params, created_at, updated_at
		FROM engine_registrations
		WHERE engine_id = $1
	`, engineID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("engine", engineID)
	}
	if err != nil {
		return nil, apperrors.UpstreamUnavailable(err)
	}
	return row.toRegistration()
}

// Create mints a fresh engine id and a pair of plaintext secrets, persisting
// only their bcrypt hashes (spec SPEC_FULL §11.8).
func (s *PostgresStore) Create(ctx context.Context, in NewRegistration) (*CreatedRegistration, error) {
	clientSecret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	providerSecret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	clientHash, err := hashSecret(clientSecret)
	if err != nil {
		return nil, err
	}
	providerHash, err := hashSecret(providerSecret)
	if err != nil {
		return nil, err
	}

	paramsJSON, err := json.Marshal(in.Params)
	if err != nil {
		return nil, apperrors.Internal("encode registration params", err)
	}

	engineID := uuid.NewString()
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO engine_registrations
			(engine_id, user_id, display_name, client_secret_hash, provider_secret_hash, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, engineID, in.UserID, in.DisplayName, clientHash, providerHash, paramsJSON, now, now)
	if err != nil {
		return nil, apperrors.Internal("insert engine registration", err)
	}

	return &CreatedRegistration{
		Registration: &EngineRegistration{
			EngineID:           engineID,
			UserID:             in.UserID,
			DisplayName:        in.DisplayName,
			ClientSecretHash:   clientHash,
			ProviderSecretHash: providerHash,
			Params:             in.Params,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		ClientSecret:   clientSecret,
		ProviderSecret: providerSecret,
	}, nil
}

func (s *PostgresStore) RotateClientSecret(ctx context.Context, engineID string) (string, error) {
	return s.rotateSecret(ctx, engineID, "client_secret_hash")
}

func (s *PostgresStore) RotateProviderSecret(ctx context.Context, engineID string) (string, error) {
	return s.rotateSecret(ctx, engineID, "provider_secret_hash")
}

func (s *PostgresStore) rotateSecret(ctx context.Context, engineID, column string) (string, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	hash, err := hashSecret(secret)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`UPDATE engine_registrations SET %s = $1, updated_at = $2 WHERE engine_id = $3`, column)
	res, err := s.db.ExecContext(ctx, query, hash, time.Now().UTC(), engineID)
	if err != nil {
		return "", apperrors.Internal("rotate secret", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", apperrors.NotFound("engine", engineID)
	}
	return secret, nil
}

func (s *PostgresStore) Delete(ctx context.Context, engineID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM engine_registrations WHERE engine_id = $1`, engineID)
	if err != nil {
		return apperrors.Internal("delete engine registration", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("engine", engineID)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]EngineRegistration, error) {
	var rows []registrationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT engine_id, user_id, display_name, client_secret_hash, provider_secret_hash, params, created_at, updated_at
		FROM engine_registrations
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, apperrors.Internal("list engine registrations", err)
	}

	out := make([]EngineRegistration, 0, len(rows))
	for _, row := range rows {
		reg, err := row.toRegistration()
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, nil
}
