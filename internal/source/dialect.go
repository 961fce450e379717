package source

import (
	"fmt"
	"strings"
)

// QuoteIdentifier backtick-quotes a MySQL identifier.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QualifyTable returns the database-qualified quoted table name.
func QualifyTable(database, table string) string {
	if database == "" {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(database) + "." + QuoteIdentifier(table)
}

// ColumnList quotes and joins column names for a SELECT list.
func ColumnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// buildKeysetQuery pages through a table on its integer primary key.
// Each chunk re-queries from the last seen key, so a failed chunk can be
// retried without re-reading earlier rows. The first chunk carries no
// lower bound; a sentinel cursor would skip keys below it. The filter,
// when present, is a complete WHERE fragment produced by the strategy
// resolver.
func buildKeysetQuery(cols, pkCol, database, table, filter string, first bool) string {
	qPK := QuoteIdentifier(pkCol)
	var clauses []string
	if !first {
		clauses = append(clauses, fmt.Sprintf("%s > ?", qPK))
	}
	if filter != "" {
		clauses = append(clauses, fmt.Sprintf("(%s)", filter))
	}
	q := fmt.Sprintf("SELECT %s FROM %s", cols, QualifyTable(database, table))
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	return q + fmt.Sprintf(" ORDER BY %s LIMIT ?", qPK)
}

// buildStreamQuery selects all qualifying rows in one ordered scan; the
// extractor slices the stream into chunks client-side. Used for tables
// without a single integer primary key, where keyset paging is not
// possible and OFFSET paging would skip or duplicate rows under
// concurrent writes.
func buildStreamQuery(cols, database, table, filter, orderBy string) string {
	q := fmt.Sprintf("SELECT %s FROM %s", cols, QualifyTable(database, table))
	if filter != "" {
		q += fmt.Sprintf(" WHERE (%s)", filter)
	}
	if orderBy != "" {
		q += " ORDER BY " + orderBy
	}
	return q
}

// buildCountQuery counts qualifying rows.
func buildCountQuery(database, table, filter string) string {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", QualifyTable(database, table))
	if filter != "" {
		q += fmt.Sprintf(" WHERE (%s)", filter)
	}
	return q
}
