// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Embedding constants
const (
	// DefaultModelVariant is used when a request names no model variant
	DefaultModelVariant = "dlib"

	// DefaultEmbeddingTimeout bounds one worker process. It must cover the first model load.
	DefaultEmbeddingTimeout = 60 * time.Second

	// MaxWorkerOutput caps how much of a worker's stdout/stderr is kept for diagnostics
	MaxWorkerOutput = 64 * 1024

	// MaxImageSize is the maximum dimension (width or height) passed to a model
	MaxImageSize = 1024
)

// Clustering constants
const (
	// DefaultMaxClusters bounds the number of groups one clustering run may produce
	DefaultMaxClusters = 40

	// DefaultClusterThreshold is the minimum cosine similarity for two groups to merge
	DefaultClusterThreshold = 0.5

	// DefaultMinClusterSize is the smallest group that is not reported as an outlier
	DefaultMinClusterSize = 2

	// OutlierLabel marks detections that did not join any cluster
	OutlierLabel = -1
)

// Assignment constants
const (
	// DefaultK is the number of nearest labeled neighbours consulted
	DefaultK = 5

	// DefaultAssignThreshold is the minimum confidence for an assignment to count as a match
	DefaultAssignThreshold = 0.6

	// StudentNamePrefix names identities created by clustering ("Student 1", "Student 2", ...)
	StudentNamePrefix = "Student"
)

// Web constants
const (
	// DefaultWebPort is the default HTTP port for the serve command
	DefaultWebPort = 8080

	// MaxUploadSize limits an uploaded image
	MaxUploadSize = 20 << 20

	// RequestTimeout bounds a synchronous HTTP request. Scope operations run longer.
	RequestTimeout = 10 * time.Minute

	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100

	// JobRetention is how long finished jobs stay queryable
	JobRetention = time.Hour

	// SSEHeartbeatInterval is how often an idle event stream sends a keepalive comment
	SSEHeartbeatInterval = 15 * time.Second
)
