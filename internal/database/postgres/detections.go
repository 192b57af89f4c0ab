package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// pgForeignKeyViolation is the SQLSTATE raised when identity_id no longer exists.
const pgForeignKeyViolation = "23503"

// Store implements database.Store.
type Store struct {
	pool *Pool
}

// NewStore creates a store on an initialized pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

var _ database.Store = (*Store)(nil)

const detectionColumns = `id, scope, image_path, det_score, embedding, model, identity_id,
	assigned_by, assign_confidence, created_at, updated_at`

func scanDetection(row pgx.Row) (database.Detection, error) {
	var (
		d          database.Detection
		vec        *pgvector.Vector
		model      *string
		assignedBy *string
	)
	err := row.Scan(&d.ID, &d.Scope, &d.ImagePath, &d.Confidence, &vec, &model, &d.IdentityID,
		&assignedBy, &d.AssignConfidence, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if vec != nil && model != nil {
		d.Embedding = &faceid.FaceEmbedding{Variant: faceid.Variant(*model), Vector: vec.Slice()}
	}
	if assignedBy != nil {
		d.AssignedBy = database.AssignedBy(*assignedBy)
	}
	return d, nil
}

func collectDetections(rows pgx.Rows) ([]database.Detection, error) {
	defer rows.Close()
	var out []database.Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return out, nil
}

// GetDetection returns a detection by ID.
func (s *Store) GetDetection(ctx context.Context, id string) (*database.Detection, error) {
	row := s.pool.pgx.QueryRow(ctx, "SELECT "+detectionColumns+" FROM detections WHERE id = $1", id)
	d, err := scanDetection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faceid.NotFoundError("detection " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("get detection %s: %w", id, err)
	}
	return &d, nil
}

// ListDetections returns the detections of a scope in creation order.
func (s *Store) ListDetections(ctx context.Context, scope string, filter database.DetectionFilter) ([]database.Detection, error) {
	where := []string{"scope = $1"}
	args := []any{scope}
	if filter.Unidentified {
		where = append(where, "identity_id IS NULL")
	}
	if filter.MissingEmbedding {
		where = append(where, "embedding IS NULL")
	}
	if filter.NotVariant != "" {
		args = append(args, string(filter.NotVariant))
		where = append(where, fmt.Sprintf("(model IS NULL OR model <> $%d)", len(args)))
	}
	query := "SELECT " + detectionColumns + " FROM detections WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.pgx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	return collectDetections(rows)
}

// Snapshot reads all embedded detections of one scope and variant in a single
// REPEATABLE READ transaction.
func (s *Store) Snapshot(ctx context.Context, scope string, variant faceid.Variant) (*database.Snapshot, error) {
	tx, err := s.pool.pgx.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only

	snap := &database.Snapshot{Scope: scope, Variant: variant}
	if err := tx.QueryRow(ctx, "SELECT NOW()").Scan(&snap.TakenAt); err != nil {
		return nil, fmt.Errorf("snapshot time: %w", err)
	}

	rows, err := tx.Query(ctx, "SELECT "+detectionColumns+` FROM detections
		WHERE scope = $1 AND model = $2 AND embedding IS NOT NULL
		ORDER BY created_at, id`, scope, string(variant))
	if err != nil {
		return nil, fmt.Errorf("snapshot detections: %w", err)
	}
	all, err := collectDetections(rows)
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d.Identified() {
			snap.Identified = append(snap.Identified, d)
		} else {
			snap.Unlabeled = append(snap.Unlabeled, d)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return snap, nil
}

// ListScopes returns all scopes that have detections.
func (s *Store) ListScopes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.pgx.Query(ctx, "SELECT DISTINCT scope FROM detections ORDER BY scope")
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	scopes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	return scopes, nil
}

func vectorArgs(emb *faceid.FaceEmbedding) (vec *pgvector.Vector, model *string, dim *int) {
	if emb == nil {
		return nil, nil, nil
	}
	v := pgvector.NewVector(emb.Vector)
	m := string(emb.Variant)
	n := len(emb.Vector)
	return &v, &m, &n
}

// CreateDetection stores a new detection.
func (s *Store) CreateDetection(ctx context.Context, d *database.Detection) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	vec, model, dim := vectorArgs(d.Embedding)
	var assignedBy *string
	if d.AssignedBy != "" {
		by := string(d.AssignedBy)
		assignedBy = &by
	}

	err := s.pool.pgx.QueryRow(ctx, `
		INSERT INTO detections (id, scope, image_path, det_score, embedding, model, dim,
			identity_id, assigned_by, assign_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		d.ID, d.Scope, d.ImagePath, d.Confidence, vec, model, dim,
		d.IdentityID, assignedBy, d.AssignConfidence,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("create detection %s: %w", d.ID, database.ErrStaleIdentity)
		}
		return fmt.Errorf("create detection %s: %w", d.ID, err)
	}
	return nil
}

// execOne runs a single-row update and reports NotFound when nothing matched.
func (s *Store) execOne(ctx context.Context, detectionID, query string, args ...any) error {
	tag, err := s.pool.pgx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update detection %s: %w", detectionID, err)
	}
	if tag.RowsAffected() == 0 {
		return faceid.NotFoundError("detection " + detectionID)
	}
	return nil
}

// SaveEmbedding replaces the embedding of a detection.
func (s *Store) SaveEmbedding(ctx context.Context, detectionID string, emb faceid.FaceEmbedding) error {
	vec, model, dim := vectorArgs(&emb)
	return s.execOne(ctx, detectionID, `
		UPDATE detections SET embedding = $2, model = $3, dim = $4, updated_at = NOW()
		WHERE id = $1`, detectionID, vec, model, dim)
}

// ClearEmbedding removes the embedding of a detection.
func (s *Store) ClearEmbedding(ctx context.Context, detectionID string) error {
	return s.execOne(ctx, detectionID, `
		UPDATE detections SET embedding = NULL, model = NULL, dim = NULL, updated_at = NOW()
		WHERE id = $1`, detectionID)
}

// AssignIdentity links a detection to an identity in one transaction.
func (s *Store) AssignIdentity(ctx context.Context, a database.Assignment) error {
	return pgx.BeginTxFunc(ctx, s.pool.pgx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var current *string
		err := tx.QueryRow(ctx, "SELECT identity_id FROM detections WHERE id = $1 FOR UPDATE", a.DetectionID).
			Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return faceid.NotFoundError("detection " + a.DetectionID)
		}
		if err != nil {
			return fmt.Errorf("lock detection %s: %w", a.DetectionID, err)
		}
		if a.OnlyIfUnassigned && current != nil {
			return fmt.Errorf("assign %s: %w", a.DetectionID, database.ErrAlreadyAssigned)
		}

		_, err = tx.Exec(ctx, `
			UPDATE detections
			SET identity_id = $2, assigned_by = $3, assign_confidence = $4, updated_at = NOW()
			WHERE id = $1`, a.DetectionID, a.IdentityID, string(a.By), a.Confidence)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("assign %s to %s: %w", a.DetectionID, a.IdentityID, database.ErrStaleIdentity)
		}
		if err != nil {
			return fmt.Errorf("assign %s: %w", a.DetectionID, err)
		}
		return nil
	})
}

// ClearIdentity unlinks a detection.
func (s *Store) ClearIdentity(ctx context.Context, detectionID string) error {
	return s.execOne(ctx, detectionID, `
		UPDATE detections SET identity_id = NULL, assigned_by = NULL, assign_confidence = NULL,
			updated_at = NOW()
		WHERE id = $1`, detectionID)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
