package database

import (
	"context"
	"errors"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

var (
	// ErrStaleIdentity is returned when a write references an identity that no longer
	// exists, typically because it was merged away.
	ErrStaleIdentity = errors.New("identity no longer exists")
	// ErrAlreadyAssigned is returned by a conditional assignment when the detection
	// already has an identity.
	ErrAlreadyAssigned = errors.New("detection already assigned")
)

// DetectionReader provides read-only access to detections
type DetectionReader interface {
	// GetDetection returns a detection by ID, or an error wrapping faceid.ErrNotFound
	GetDetection(ctx context.Context, id string) (*Detection, error)
	// ListDetections returns the detections of a scope ordered by creation time
	ListDetections(ctx context.Context, scope string, filter DetectionFilter) ([]Detection, error)
	// Snapshot reads the embedded detections of a scope for one variant in a single
	// consistent read
	Snapshot(ctx context.Context, scope string, variant faceid.Variant) (*Snapshot, error)
	// ListScopes returns all scopes that have detections
	ListScopes(ctx context.Context) ([]string, error)
}

// DetectionWriter provides write access to detections. Every method is atomic for
// the detection it touches.
type DetectionWriter interface {
	DetectionReader

	// CreateDetection stores a new detection; an empty ID is generated
	CreateDetection(ctx context.Context, d *Detection) error
	// SaveEmbedding replaces the detection's embedding, whatever variant it had before
	SaveEmbedding(ctx context.Context, detectionID string, emb faceid.FaceEmbedding) error
	// ClearEmbedding removes the detection's embedding
	ClearEmbedding(ctx context.Context, detectionID string) error
	// AssignIdentity links a detection to an existing identity. It fails with
	// ErrStaleIdentity if the identity is gone.
	AssignIdentity(ctx context.Context, a Assignment) error
	// ClearIdentity unlinks a detection
	ClearIdentity(ctx context.Context, detectionID string) error
}

// IdentityWriter manages identities
type IdentityWriter interface {
	CreateIdentity(ctx context.Context, scope, displayName string) (*Identity, error)
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	// ListIdentities returns the identities of a scope with their detection counts
	ListIdentities(ctx context.Context, scope string) ([]Identity, error)
	// FindIdentityByName matches normalized names within a scope; nil if none matches
	FindIdentityByName(ctx context.Context, scope, name string) (*Identity, error)
	RenameIdentity(ctx context.Context, id, displayName string) error
	// MergeIdentities re-points every detection of mergedID to survivorID and deletes mergedID
	MergeIdentities(ctx context.Context, survivorID, mergedID string) error
}

// ScopeLocker serialises clustering and assignment runs per scope.
type ScopeLocker interface {
	// LockScope blocks until the scope is free; the returned func releases it
	LockScope(ctx context.Context, scope string) (unlock func(), err error)
}

// Store aggregates everything the pipeline needs.
type Store interface {
	DetectionWriter
	IdentityWriter
	ScopeLocker
}
