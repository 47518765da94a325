package export

import (
	"fmt"
	"slices"
	"strings"

	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) placeholder(i int) string {
	if d == dialectPostgres {
		return fmt.Sprintf("$%d", i+1)
	}
	return "?"
}

// versionColumn holds the batch write version of rows in conflict-update tables.
const versionColumn = "export_version"

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// versioned reports whether rows of d carry a write version.
// Only conflict-update tables with at least one non-key column do.
func versioned(d record.Descriptor) bool {
	if d.Conflict != record.ConflictUpdate {
		return false
	}
	for _, c := range d.Columns {
		if !slices.Contains(d.PrimaryKey, c) {
			return true
		}
	}
	return false
}

// rowValues normalizes a record and appends the batch write version when d is versioned.
func rowValues(d record.Descriptor, values []any, batch Batch) []any {
	values = normalizeAll(values)
	if versioned(d) {
		values = append(values, batch.WriteVersion())
	}
	return values
}

// upsertSQL builds an idempotent insert for the descriptor's conflict policy.
// Conflict updates only apply when the incoming write version is not older
// than the stored one, so batches finishing out of order cannot regress a row.
func upsertSQL(d record.Descriptor, dia dialect) string {
	columns := d.Columns
	if versioned(d) {
		columns = append(slices.Clip(columns), versionColumn)
	}

	cols := make([]string, len(columns))
	vals := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(c)
		vals[i] = dia.placeholder(i)
	}

	pk := make([]string, len(d.PrimaryKey))
	isPK := make(map[string]struct{}, len(d.PrimaryKey))
	for i, c := range d.PrimaryKey {
		pk[i] = quoteIdent(c)
		isPK[c] = struct{}{}
	}

	action := "DO NOTHING"
	if versioned(d) {
		var sets []string
		for _, c := range columns {
			if _, ok := isPK[c]; ok {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", quoteIdent(c), quoteIdent(c)))
		}
		action = fmt.Sprintf("DO UPDATE SET %s WHERE excluded.%s >= %s.%s",
			strings.Join(sets, ", "),
			quoteIdent(versionColumn), quoteIdent(d.Table), quoteIdent(versionColumn))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		quoteIdent(d.Table),
		strings.Join(cols, ", "),
		strings.Join(vals, ", "),
		strings.Join(pk, ", "),
		action,
	)
}

// createTableSQL builds the table for a descriptor, typing columns from a sample row.
func createTableSQL(d record.Descriptor, sample []any, dia dialect) string {
	defs := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		var v any
		if i < len(sample) {
			v = sample[i]
		}
		defs[i] = quoteIdent(c) + " " + columnType(v, dia)
	}
	if versioned(d) {
		defs = append(defs, quoteIdent(versionColumn)+" "+columnType(int64(0), dia)+" NOT NULL")
	}

	pk := make([]string, len(d.PrimaryKey))
	for i, c := range d.PrimaryKey {
		pk[i] = quoteIdent(c)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		quoteIdent(d.Table), strings.Join(defs, ", "), strings.Join(pk, ", "))
}

func columnType(v any, dia dialect) string {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if dia == dialectPostgres {
			return "BIGINT"
		}
		return "INTEGER"
	case bool:
		if dia == dialectPostgres {
			return "BOOLEAN"
		}
		return "INTEGER"
	case []byte:
		if dia == dialectPostgres {
			return "BYTEA"
		}
		return "BLOB"
	default:
		return "TEXT"
	}
}
