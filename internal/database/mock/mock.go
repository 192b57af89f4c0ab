// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// Store is an in-memory database.Store.
type Store struct {
	mu         sync.RWMutex
	detections map[string]*database.Detection
	identities map[string]*database.Identity
	order      []string // detection IDs in creation order
	locks      map[string]chan struct{}
	now        func() time.Time

	// Error injection
	GetDetectionError   error
	ListDetectionsError error
	SnapshotError       error
	CreateError         error
	SaveEmbeddingError  error
	AssignError         error
	CreateIdentityError error
	ListIdentitiesError error
	MergeError          error
	LockError           error

	// AssignErrorFor fails AssignIdentity for specific detection IDs.
	AssignErrorFor map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		detections:     make(map[string]*database.Detection),
		identities:     make(map[string]*database.Identity),
		locks:          make(map[string]chan struct{}),
		AssignErrorFor: make(map[string]error),
		now:            time.Now,
	}
}

var _ database.Store = (*Store)(nil)

func cloneDetection(d *database.Detection) database.Detection {
	out := *d
	if d.Embedding != nil {
		e := *d.Embedding
		e.Vector = slices.Clone(e.Vector)
		out.Embedding = &e
	}
	if d.IdentityID != nil {
		id := *d.IdentityID
		out.IdentityID = &id
	}
	return out
}

// GetDetection returns a detection by ID.
func (m *Store) GetDetection(ctx context.Context, id string) (*database.Detection, error) {
	if m.GetDetectionError != nil {
		return nil, m.GetDetectionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.detections[id]
	if !ok {
		return nil, faceid.NotFoundError("detection " + id)
	}
	out := cloneDetection(d)
	return &out, nil
}

// ListDetections returns the detections of a scope in creation order.
func (m *Store) ListDetections(ctx context.Context, scope string, filter database.DetectionFilter) ([]database.Detection, error) {
	if m.ListDetectionsError != nil {
		return nil, m.ListDetectionsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Detection
	for _, id := range m.order {
		d := m.detections[id]
		if d.Scope != scope {
			continue
		}
		if filter.Unidentified && d.Identified() {
			continue
		}
		if filter.MissingEmbedding && d.Embedding != nil {
			continue
		}
		if filter.NotVariant != "" && d.Embedding != nil && d.Embedding.Variant == filter.NotVariant {
			continue
		}
		out = append(out, cloneDetection(d))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Snapshot copies the embedded detections of a scope for one variant.
func (m *Store) Snapshot(ctx context.Context, scope string, variant faceid.Variant) (*database.Snapshot, error) {
	if m.SnapshotError != nil {
		return nil, m.SnapshotError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &database.Snapshot{Scope: scope, Variant: variant, TakenAt: m.now()}
	for _, id := range m.order {
		d := m.detections[id]
		if d.Scope != scope || d.Embedding == nil || d.Embedding.Variant != variant {
			continue
		}
		if d.Identified() {
			snap.Identified = append(snap.Identified, cloneDetection(d))
		} else {
			snap.Unlabeled = append(snap.Unlabeled, cloneDetection(d))
		}
	}
	return snap, nil
}

// ListScopes returns all scopes, sorted.
func (m *Store) ListScopes(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var scopes []string
	for _, d := range m.detections {
		if !seen[d.Scope] {
			seen[d.Scope] = true
			scopes = append(scopes, d.Scope)
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

// CreateDetection stores a new detection.
func (m *Store) CreateDetection(ctx context.Context, d *database.Detection) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := m.detections[d.ID]; exists {
		return fmt.Errorf("detection %s already exists", d.ID)
	}
	now := m.now()
	d.CreatedAt, d.UpdatedAt = now, now
	stored := cloneDetection(d)
	m.detections[d.ID] = &stored
	m.order = append(m.order, d.ID)
	return nil
}

// AddDetection stores a detection as-is, for test setup.
func (m *Store) AddDetection(d database.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := cloneDetection(&d)
	if _, exists := m.detections[d.ID]; !exists {
		m.order = append(m.order, d.ID)
	}
	m.detections[d.ID] = &stored
}

// AddIdentity stores an identity as-is, for test setup.
func (m *Store) AddIdentity(i database.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i.NormalizedName == "" {
		i.NormalizedName = database.NormalizeName(i.DisplayName)
	}
	m.identities[i.ID] = &i
}

func (m *Store) detection(id string) (*database.Detection, error) {
	d, ok := m.detections[id]
	if !ok {
		return nil, faceid.NotFoundError("detection " + id)
	}
	return d, nil
}

// SaveEmbedding replaces the embedding of a detection.
func (m *Store) SaveEmbedding(ctx context.Context, detectionID string, emb faceid.FaceEmbedding) error {
	if m.SaveEmbeddingError != nil {
		return m.SaveEmbeddingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.detection(detectionID)
	if err != nil {
		return err
	}
	emb.Vector = slices.Clone(emb.Vector)
	d.Embedding = &emb
	d.UpdatedAt = m.now()
	return nil
}

// ClearEmbedding removes the embedding of a detection.
func (m *Store) ClearEmbedding(ctx context.Context, detectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.detection(detectionID)
	if err != nil {
		return err
	}
	d.Embedding = nil
	d.UpdatedAt = m.now()
	return nil
}

// AssignIdentity links a detection to an identity.
func (m *Store) AssignIdentity(ctx context.Context, a database.Assignment) error {
	if m.AssignError != nil {
		return m.AssignError
	}
	if err := m.AssignErrorFor[a.DetectionID]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.detection(a.DetectionID)
	if err != nil {
		return err
	}
	if _, ok := m.identities[a.IdentityID]; !ok {
		return fmt.Errorf("assign %s to %s: %w", a.DetectionID, a.IdentityID, database.ErrStaleIdentity)
	}
	if a.OnlyIfUnassigned && d.Identified() {
		return fmt.Errorf("assign %s: %w", a.DetectionID, database.ErrAlreadyAssigned)
	}
	id := a.IdentityID
	d.IdentityID = &id
	d.AssignedBy = a.By
	d.AssignConfidence = a.Confidence
	d.UpdatedAt = m.now()
	return nil
}

// ClearIdentity unlinks a detection.
func (m *Store) ClearIdentity(ctx context.Context, detectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.detection(detectionID)
	if err != nil {
		return err
	}
	d.IdentityID = nil
	d.AssignedBy = ""
	d.AssignConfidence = nil
	d.UpdatedAt = m.now()
	return nil
}

// CreateIdentity creates a new identity.
func (m *Store) CreateIdentity(ctx context.Context, scope, displayName string) (*database.Identity, error) {
	if m.CreateIdentityError != nil {
		return nil, m.CreateIdentityError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := &database.Identity{
		ID:             uuid.NewString(),
		Scope:          scope,
		DisplayName:    displayName,
		NormalizedName: database.NormalizeName(displayName),
		CreatedAt:      m.now(),
	}
	m.identities[i.ID] = i
	out := *i
	return &out, nil
}

// GetIdentity returns an identity by ID.
func (m *Store) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.identities[id]
	if !ok {
		return nil, faceid.NotFoundError("identity " + id)
	}
	out := *i
	out.DetectionCount = m.countFor(id)
	return &out, nil
}

func (m *Store) countFor(identityID string) int {
	n := 0
	for _, d := range m.detections {
		if d.IdentityID != nil && *d.IdentityID == identityID {
			n++
		}
	}
	return n
}

// ListIdentities returns the identities of a scope ordered by creation time.
func (m *Store) ListIdentities(ctx context.Context, scope string) ([]database.Identity, error) {
	if m.ListIdentitiesError != nil {
		return nil, m.ListIdentitiesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Identity
	for _, i := range m.identities {
		if i.Scope != scope {
			continue
		}
		c := *i
		c.DetectionCount = m.countFor(i.ID)
		out = append(out, c)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].DisplayName < out[b].DisplayName
	})
	return out, nil
}

// FindIdentityByName matches the normalized name within a scope.
func (m *Store) FindIdentityByName(ctx context.Context, scope, name string) (*database.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := database.NormalizeName(name)
	for _, i := range m.identities {
		if i.Scope == scope && i.NormalizedName == want {
			out := *i
			return &out, nil
		}
	}
	return nil, nil
}

// RenameIdentity changes the display name of an identity.
func (m *Store) RenameIdentity(ctx context.Context, id, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.identities[id]
	if !ok {
		return faceid.NotFoundError("identity " + id)
	}
	i.DisplayName = displayName
	i.NormalizedName = database.NormalizeName(displayName)
	return nil
}

// MergeIdentities moves all detections of mergedID to survivorID and deletes mergedID.
func (m *Store) MergeIdentities(ctx context.Context, survivorID, mergedID string) error {
	if m.MergeError != nil {
		return m.MergeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if survivorID == mergedID {
		return faceid.ValidationErrorf("cannot merge identity %s into itself", survivorID)
	}
	survivor, ok := m.identities[survivorID]
	if !ok {
		return faceid.NotFoundError("identity " + survivorID)
	}
	merged, ok := m.identities[mergedID]
	if !ok {
		return faceid.NotFoundError("identity " + mergedID)
	}
	if survivor.Scope != merged.Scope {
		return faceid.ValidationErrorf("identities belong to different scopes")
	}
	for _, d := range m.detections {
		if d.IdentityID != nil && *d.IdentityID == mergedID {
			id := survivorID
			d.IdentityID = &id
			d.UpdatedAt = m.now()
		}
	}
	delete(m.identities, mergedID)
	return nil
}

// DeleteIdentity removes an identity without touching its detections, simulating a
// concurrent merge for tests.
func (m *Store) DeleteIdentity(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, id)
}

// LockScope blocks until the scope is free or ctx is done.
func (m *Store) LockScope(ctx context.Context, scope string) (func(), error) {
	if m.LockError != nil {
		return nil, m.LockError
	}
	m.mu.Lock()
	ch, ok := m.locks[scope]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[scope] = ch
	}
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lock scope %s: %w", scope, ctx.Err())
	}
}
