package domain

import (
	"fmt"
	"time"
)

// Cluster groups content units around a centroid embedding for topic browsing.
type Cluster struct {
	ID          string
	Centroid    []float32
	MemberCount int32
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateCluster validates a Cluster instance.
func ValidateCluster(c *Cluster) error {
	if c == nil {
		return fmt.Errorf("cluster cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("cluster ID is required")
	}

	if len(c.Centroid) == 0 {
		return fmt.Errorf("cluster centroid is required")
	}

	if c.MemberCount < 0 {
		return fmt.Errorf("cluster member count cannot be negative")
	}

	return nil
}

// ConsolidationPhase names a phase of the consolidation job.
type ConsolidationPhase string

const (
	PhaseCentroids ConsolidationPhase = "centroids"
	PhaseMerge     ConsolidationPhase = "merge"
	PhaseSplit     ConsolidationPhase = "split"
	PhaseDone      ConsolidationPhase = "done"
)

// ConsolidationCheckpoint records the progress of a consolidation run so a
// crashed run can resume without corrupting cluster assignments.
type ConsolidationCheckpoint struct {
	RunID     string
	Phase     ConsolidationPhase
	Cursor    string // last cluster ID fully processed in the current phase
	StartedAt time.Time
	UpdatedAt time.Time
}

// ConsolidationResult summarizes what a consolidation run did.
type ConsolidationResult struct {
	CentroidsRecomputed int
	ClustersMerged      int
	ClustersSplit       int
	UnitsReassigned     int
	EmptyClustersPruned int
}

func isValidConsolidationPhase(p ConsolidationPhase) bool {
	switch p {
	case PhaseCentroids, PhaseMerge, PhaseSplit, PhaseDone:
		return true
	}
	return false
}

// ValidateCheckpoint validates a ConsolidationCheckpoint instance.
func ValidateCheckpoint(c *ConsolidationCheckpoint) error {
	if c == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	if c.RunID == "" {
		return fmt.Errorf("checkpoint run ID is required")
	}

	if !isValidConsolidationPhase(c.Phase) {
		return fmt.Errorf("checkpoint phase is invalid: %s", c.Phase)
	}

	return nil
}
