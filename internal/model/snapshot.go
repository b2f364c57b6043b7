package model

import "time"

// Snapshot is one consistent read of the raw inspection table and the
// branch registry.
type Snapshot struct {
	Rows     []RawInspectionRow
	Registry *Registry
	ReadAt   time.Time
}
