package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// CreateIdentity creates a new identity.
func (s *Store) CreateIdentity(ctx context.Context, scope, displayName string) (*database.Identity, error) {
	i := &database.Identity{
		ID:             uuid.NewString(),
		Scope:          scope,
		DisplayName:    displayName,
		NormalizedName: database.NormalizeName(displayName),
	}
	err := s.pool.pgx.QueryRow(ctx, `
		INSERT INTO identities (id, scope, display_name, normalized_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`, i.ID, i.Scope, i.DisplayName, i.NormalizedName).Scan(&i.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return i, nil
}

const identityColumns = `i.id, i.scope, i.display_name, i.normalized_name, i.created_at,
	(SELECT COUNT(*) FROM detections d WHERE d.identity_id = i.id)`

func scanIdentity(row pgx.Row) (database.Identity, error) {
	var i database.Identity
	err := row.Scan(&i.ID, &i.Scope, &i.DisplayName, &i.NormalizedName, &i.CreatedAt, &i.DetectionCount)
	return i, err
}

// GetIdentity returns an identity by ID.
func (s *Store) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	i, err := scanIdentity(s.pool.pgx.QueryRow(ctx,
		"SELECT "+identityColumns+" FROM identities i WHERE i.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faceid.NotFoundError("identity " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", id, err)
	}
	return &i, nil
}

// ListIdentities returns the identities of a scope with detection counts.
func (s *Store) ListIdentities(ctx context.Context, scope string) ([]database.Identity, error) {
	rows, err := s.pool.pgx.Query(ctx,
		"SELECT "+identityColumns+" FROM identities i WHERE i.scope = $1 ORDER BY i.created_at, i.display_name", scope)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []database.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// FindIdentityByName returns the oldest identity in scope with a matching normalized
// name, or nil.
func (s *Store) FindIdentityByName(ctx context.Context, scope, name string) (*database.Identity, error) {
	i, err := scanIdentity(s.pool.pgx.QueryRow(ctx,
		"SELECT "+identityColumns+` FROM identities i
		WHERE i.scope = $1 AND i.normalized_name = $2
		ORDER BY i.created_at LIMIT 1`, scope, database.NormalizeName(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find identity %q: %w", name, err)
	}
	return &i, nil
}

// RenameIdentity changes the display name of an identity.
func (s *Store) RenameIdentity(ctx context.Context, id, displayName string) error {
	tag, err := s.pool.pgx.Exec(ctx,
		"UPDATE identities SET display_name = $2, normalized_name = $3 WHERE id = $1",
		id, displayName, database.NormalizeName(displayName))
	if err != nil {
		return fmt.Errorf("rename identity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return faceid.NotFoundError("identity " + id)
	}
	return nil
}

// MergeIdentities re-points every detection of mergedID to survivorID and deletes
// mergedID, in one transaction.
func (s *Store) MergeIdentities(ctx context.Context, survivorID, mergedID string) error {
	if survivorID == mergedID {
		return faceid.ValidationErrorf("cannot merge identity %s into itself", survivorID)
	}
	return pgx.BeginTxFunc(ctx, s.pool.pgx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT id, scope FROM identities WHERE id = ANY($1) ORDER BY id FOR UPDATE",
			[]string{survivorID, mergedID})
		if err != nil {
			return fmt.Errorf("lock identities: %w", err)
		}
		scopes := make(map[string]string, 2)
		for rows.Next() {
			var id, scope string
			if err := rows.Scan(&id, &scope); err != nil {
				rows.Close()
				return fmt.Errorf("scan identity: %w", err)
			}
			scopes[id] = scope
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate identities: %w", err)
		}
		for _, id := range []string{survivorID, mergedID} {
			if _, ok := scopes[id]; !ok {
				return faceid.NotFoundError("identity " + id)
			}
		}
		if scopes[survivorID] != scopes[mergedID] {
			return faceid.ValidationErrorf("identities belong to different scopes")
		}

		if _, err := tx.Exec(ctx,
			"UPDATE detections SET identity_id = $1, updated_at = NOW() WHERE identity_id = $2",
			survivorID, mergedID); err != nil {
			return fmt.Errorf("re-point detections: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM identities WHERE id = $1", mergedID); err != nil {
			return fmt.Errorf("delete identity %s: %w", mergedID, err)
		}
		return nil
	})
}
