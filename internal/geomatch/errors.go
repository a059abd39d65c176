package geomatch

import "fmt"

// MissingReferenceError reports a block group that qualified for a target
// but has no row in the demographic table.
type MissingReferenceError struct {
	GEOID  string
	Target string
}

func (e *MissingReferenceError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("geomatch: block group %s not in demographic table", e.GEOID)
	}
	return fmt.Sprintf("geomatch: target %s: block group %s not in demographic table", e.Target, e.GEOID)
}

// DegenerateGeometryError reports a polygon that cannot be measured.
type DegenerateGeometryError struct {
	ID     string
	Reason string
}

func (e *DegenerateGeometryError) Error() string {
	return fmt.Sprintf("geomatch: degenerate geometry %s: %s", e.ID, e.Reason)
}
