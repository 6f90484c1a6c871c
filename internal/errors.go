package internal

import "fmt"

// ParseError reports a malformed input cell.
type ParseError struct {
	Table string
	Field string
	Row   int
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("parse %s.%s row %d %q: %v", e.Table, e.Field, e.Row, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SchemaError reports a missing column or field, or a value that breaks a
// structural invariant of its table (duplicate key, wrong shape).
type SchemaError struct {
	Table  string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Table != "" && e.Field != "":
		return fmt.Sprintf("schema %s.%s: %s", e.Table, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("schema %s: %s", e.Field, e.Reason)
	default:
		return fmt.Sprintf("schema: %s", e.Reason)
	}
}

// MissingJoinKeyError reports a row that cannot be resolved to its required
// parent entity.
type MissingJoinKeyError struct {
	Table string
	Key   string
	Value string
	Row   int
}

func (e *MissingJoinKeyError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("missing join key: %s row %d has no %s", e.Table, e.Row, e.Key)
	}
	return fmt.Sprintf("missing join key: %s row %d references unknown %s %q", e.Table, e.Row, e.Key, e.Value)
}

// DegenerateClusteringError reports a label set on which the validity index
// is undefined (fewer than two clusters).
type DegenerateClusteringError struct {
	ClusterCount int
}

func (e *DegenerateClusteringError) Error() string {
	return fmt.Sprintf("degenerate clustering: %d cluster(s), at least 2 required", e.ClusterCount)
}
