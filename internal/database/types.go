package database

import (
	"time"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// AssignedBy records which component linked a detection to its identity.
type AssignedBy string

const (
	AssignedByCluster AssignedBy = "cluster"
	AssignedByAssign  AssignedBy = "assign"
	AssignedByManual  AssignedBy = "manual"
)

// Detection is one face crop emitted by the detector.
type Detection struct {
	ID         string
	Scope      string   // grouping scope, e.g. a class or a session
	ImagePath  string   // cropped face image
	Confidence *float64 // detector score

	Embedding *faceid.FaceEmbedding // nil until computed

	IdentityID       *string
	AssignedBy       AssignedBy
	AssignConfidence *float64 // set by the Assignment Engine

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identified reports whether the detection is linked to an identity.
func (d *Detection) Identified() bool {
	return d.IdentityID != nil && *d.IdentityID != ""
}

// Identity is a persistent student record.
type Identity struct {
	ID             string    `json:"id"`
	Scope          string    `json:"scope"`
	DisplayName    string    `json:"display_name"`
	NormalizedName string    `json:"normalized_name"`
	CreatedAt      time.Time `json:"created_at"`
	DetectionCount int       `json:"detection_count"` // populated by ListIdentities and GetIdentity
}

// DetectionFilter narrows ListDetections. Zero values do not filter.
type DetectionFilter struct {
	Unidentified     bool // only detections without an identity
	MissingEmbedding bool // only detections without an embedding
	// NotVariant selects detections whose embedding is missing or was produced by another variant.
	NotVariant faceid.Variant
	Limit      int
}

// Snapshot is a consistent point-in-time view of one scope's embedded detections for
// one variant.
type Snapshot struct {
	Scope      string
	Variant    faceid.Variant
	TakenAt    time.Time
	Identified []Detection
	Unlabeled  []Detection
}

// Pool returns the identified detections as labeled embeddings.
func (s *Snapshot) Pool() []faceid.LabeledEmbedding {
	pool := make([]faceid.LabeledEmbedding, 0, len(s.Identified))
	for i := range s.Identified {
		d := &s.Identified[i]
		if d.Embedding == nil || !d.Identified() {
			continue
		}
		pool = append(pool, faceid.LabeledEmbedding{
			Embedding:   *d.Embedding,
			IdentityID:  *d.IdentityID,
			DetectionID: d.ID,
		})
	}
	return pool
}

// Assignment links a detection to an identity.
type Assignment struct {
	DetectionID string
	IdentityID  string
	By          AssignedBy
	Confidence  *float64
	// OnlyIfUnassigned makes the write fail with ErrAlreadyAssigned when the detection
	// gained an identity since the snapshot was taken.
	OnlyIfUnassigned bool
}
