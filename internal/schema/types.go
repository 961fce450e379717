// Package schema defines the canonical table schema shared by extraction and
// loading, and the MySQL to BigQuery type mapping.
package schema

import (
	"cloud.google.com/go/bigquery"
)

// TableRef identifies one replicated table: its logical source database,
// its source table name, and its fully prefixed target table name.
type TableRef struct {
	Database string `yaml:"database"`
	Name     string `yaml:"name"`
	Target   string `yaml:"target"`
}

// String returns the source-qualified identifier (database.table).
func (t TableRef) String() string {
	return t.Database + "." + t.Name
}

// Column describes one column of a replicated table.
type Column struct {
	Name       string
	SourceType string // full MySQL column type, e.g. "varchar(64)", "tinyint(1)"
	Type       bigquery.FieldType
	Nullable   bool
	OrdinalPos int
}

// TableSchema is the canonical ordered schema for one table. It is rebuilt
// fresh from the source catalog each run and never mutated mid-extraction.
type TableSchema struct {
	Table   TableRef
	Columns []Column

	// PrimaryKey holds the primary key column names in key order.
	// Used to pick a stable extraction cursor, not replicated as a constraint.
	PrimaryKey []string
}

// ColumnNames returns the column names in declared catalog order.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name, or nil.
func (s *TableSchema) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// HasIntegerPK returns true if the table has a single-column integer primary
// key, which allows keyset pagination on the extraction cursor.
func (s *TableSchema) HasIntegerPK() bool {
	if len(s.PrimaryKey) != 1 {
		return false
	}
	col := s.Column(s.PrimaryKey[0])
	return col != nil && col.Type == bigquery.IntegerFieldType
}

// ToBigQuery converts the canonical schema to a BigQuery schema. Every field
// is NULLABLE: the streaming API rejects rows with missing REQUIRED fields,
// and source data routinely carries NULLs even in NOT NULL columns copied
// across replicas.
func (s *TableSchema) ToBigQuery() bigquery.Schema {
	fields := make(bigquery.Schema, len(s.Columns))
	for i, c := range s.Columns {
		fields[i] = &bigquery.FieldSchema{
			Name:        c.Name,
			Type:        c.Type,
			Required:    false,
			Description: "MySQL: " + c.SourceType,
		}
	}
	return fields
}

// SameColumns reports whether the given result-set column names match the
// canonical schema exactly, in order. Used to detect schema drift between
// chunk fetches within a single run.
func (s *TableSchema) SameColumns(names []string) bool {
	if len(names) != len(s.Columns) {
		return false
	}
	for i, n := range names {
		if s.Columns[i].Name != n {
			return false
		}
	}
	return true
}
