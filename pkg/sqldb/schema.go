package sqldb

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/jmoiron/sqlx"
)

// SchemaOptions selects what LoadSchema describes.
type SchemaOptions struct {
	// Schema is the database schema to list. Empty means the dialect default.
	Schema string

	// Include and Exclude are table name patterns (path.Match syntax,
	// case-insensitive). An empty Include keeps every table.
	Include []string
	Exclude []string

	// SampleRows is the number of example rows rendered per table.
	SampleRows int
}

// Column describes a table column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Table describes a table and optionally a few of its rows.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Sample  *Result  `json:"sample,omitempty"`
}

// Schema is the set of tables questions can be answered from.
type Schema struct {
	Dialect Dialect `json:"dialect"`

	// Namespace is the schema the tables live in when it is not the
	// connection's default. Table names are qualified with it.
	Namespace string  `json:"namespace,omitempty"`
	Tables    []Table `json:"tables"`
}

type columnRow struct {
	Table      string `db:"table_name"`
	Column     string `db:"column_name"`
	DataType   string `db:"data_type"`
	IsNullable string `db:"is_nullable"`
}

// LoadSchema reads table and column definitions from the database catalog.
func LoadSchema(ctx context.Context, db *sqlx.DB, dialect Dialect, opts SchemaOptions) (*Schema, error) {
	var (
		rows []columnRow
		err  error
	)
	switch dialect {
	case SQLite:
		rows, err = sqliteColumns(ctx, db, opts.Schema)
	default:
		rows, err = catalogColumns(ctx, db, dialect, opts.Schema)
	}
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	schema := Schema{Dialect: dialect}
	if opts.Schema != "" && opts.Schema != dialect.DefaultSchema() && !(dialect == SQLite && opts.Schema == "main") {
		schema.Namespace = opts.Schema
	}
	for _, r := range rows {
		if !keepTable(r.Table, opts) {
			continue
		}
		n := len(schema.Tables)
		if n == 0 || schema.Tables[n-1].Name != r.Table {
			schema.Tables = append(schema.Tables, Table{Name: r.Table})
			n++
		}
		schema.Tables[n-1].Columns = append(schema.Tables[n-1].Columns, Column{
			Name:     r.Column,
			Type:     strings.ToUpper(r.DataType),
			Nullable: strings.EqualFold(r.IsNullable, "YES"),
		})
	}

	if opts.SampleRows > 0 {
		// Read from the schema the columns were listed from, whatever the
		// connection's search path says.
		listed := opts.Schema
		if listed == "" {
			listed = dialect.DefaultSchema()
		}
		for i := range schema.Tables {
			q := fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualify(listed, schema.Tables[i].Name), opts.SampleRows)
			sample, err := Query(ctx, db, dialect, q, QueryOptions{MaxRows: opts.SampleRows})
			if err != nil {
				return nil, fmt.Errorf("sample rows of %s: %w", schema.Tables[i].Name, err)
			}
			schema.Tables[i].Sample = sample
		}
	}

	return &schema, nil
}

func catalogColumns(ctx context.Context, db *sqlx.DB, dialect Dialect, schemaName string) ([]columnRow, error) {
	if schemaName == "" {
		schemaName = dialect.DefaultSchema()
	}

	q := `
	SELECT
		table_name, column_name, data_type, is_nullable
	FROM
		information_schema.columns
	WHERE
		table_schema = ?
	ORDER BY
		table_name, ordinal_position`

	var rows []columnRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(q), schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func sqliteColumns(ctx context.Context, db *sqlx.DB, schemaName string) ([]columnRow, error) {
	if schemaName == "" {
		schemaName = "main"
	}

	q := `
	SELECT
		m.name AS table_name,
		p.name AS column_name,
		p.type AS data_type,
		CASE WHEN p."notnull" = 0 AND p.pk = 0 THEN 'YES' ELSE 'NO' END AS is_nullable
	FROM
		` + QuoteIdent(schemaName) + `.sqlite_master AS m
	JOIN
		pragma_table_info(m.name, ?) AS p
	WHERE
		m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite_%'
	ORDER BY
		m.name, p.cid`

	var rows []columnRow
	if err := db.SelectContext(ctx, &rows, q, schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

// qualify names a table inside schemaName. An empty schemaName leaves the
// lookup to the connection.
func qualify(schemaName, table string) string {
	if schemaName == "" {
		return QuoteIdent(table)
	}
	return QuoteIdent(schemaName) + "." + QuoteIdent(table)
}

func keepTable(name string, opts SchemaOptions) bool {
	match := func(patterns []string) bool {
		for _, p := range patterns {
			if ok, _ := path.Match(strings.ToLower(p), strings.ToLower(name)); ok {
				return true
			}
		}
		return false
	}
	if len(opts.Include) > 0 && !match(opts.Include) {
		return false
	}
	return !match(opts.Exclude)
}

// QuoteIdent quotes an identifier with double quotes, which all supported
// dialects accept.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Table returns the named table, matching case-insensitively.
func (s *Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// TableNames returns the table names in catalog order.
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// String renders the schema as CREATE TABLE statements, each followed by
// its sample rows in a comment block. This is the text the SQL prompt
// embeds.
func (s *Schema) String() string {
	var b strings.Builder
	for i, t := range s.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		name := t.Name
		if s.Namespace != "" {
			name = s.Namespace + "." + t.Name
		}
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", name)
		for j, c := range t.Columns {
			fmt.Fprintf(&b, "\t%s %s", c.Name, c.Type)
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
			if j < len(t.Columns)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(");\n")

		if t.Sample != nil && !t.Sample.Empty() {
			fmt.Fprintf(&b, "\n/*\n%d rows from %s table:\n", len(t.Sample.Rows), name)
			b.WriteString(strings.Join(t.Sample.Columns, "\t"))
			b.WriteString("\n")
			for _, row := range t.Sample.Rows {
				cells := make([]string, len(row))
				for k, v := range row {
					cells[k] = formatValue(v)
				}
				b.WriteString(strings.Join(cells, "\t"))
				b.WriteString("\n")
			}
			b.WriteString("*/\n")
		}
	}
	return b.String()
}
