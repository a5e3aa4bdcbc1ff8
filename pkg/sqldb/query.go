package sqldb

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// DefaultMaxRows caps the rows read from a result when QueryOptions leaves
// MaxRows unset.
const DefaultMaxRows = 200

// QueryOptions bounds a single query.
type QueryOptions struct {
	// MaxRows is the number of rows kept. Zero means DefaultMaxRows.
	MaxRows int

	// Timeout bounds execution. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// Result is the outcome of a query.
type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// Query executes a single statement and reads at most MaxRows rows. The
// statement runs inside a transaction that is always rolled back, so a
// statement that slips past the read-only guard leaves nothing behind.
// Failures are returned as *QueryError.
func Query(ctx context.Context, db *sqlx.DB, dialect Dialect, stmt string, opts QueryOptions) (*Result, error) {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := runQuery(ctx, db, dialect, stmt, opts.MaxRows)
	if err != nil {
		return nil, newQueryError(stmt, err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func runQuery(ctx context.Context, db *sqlx.DB, dialect Dialect, stmt string, maxRows int) (*Result, error) {
	// Nothing the model wrote has reached the database yet, so a failure
	// here is about the connection.
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, connectionError(ctx, err, "begin")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if dialect == Postgres {
		if _, err := tx.ExecContext(ctx, "SET TRANSACTION READ ONLY"); err != nil {
			return nil, connectionError(ctx, err, "read only")
		}
	}

	rows, err := tx.QueryxContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := Result{
		Columns: columns,
		Rows:    [][]any{},
	}
	for rows.Next() {
		if len(result.Rows) == maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &result, nil
}

// WriteTable renders rows under header as a bordered ASCII table. Header
// cells are written as given.
func WriteTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleASCII),
		})),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)

	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	table.Header(cells...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// normalize converts driver values into JSON friendly ones.
func normalize(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return val
	case []byte:
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.UTC().Format(time.RFC3339)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return new(big.Int).SetUint64(val).String()
	case float32:
		return float64(val)
	case *big.Int:
		if val.IsInt64() {
			return val.Int64()
		}
		return val.String()
	case interface{ Float64() float64 }:
		return val.Float64()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// formatValue renders a normalized value for text output. Floats are
// written without exponents.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// Empty reports whether the result has no rows.
func (r *Result) Empty() bool {
	return len(r.Rows) == 0
}

// Maps returns the rows keyed by column name.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// Text renders the result as an aligned table. A result without rows
// renders as "(no rows)" so the summarizer can tell the data is missing.
func (r *Result) Text() string {
	if r == nil || r.Empty() {
		return "(no rows)"
	}

	rows := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = formatValue(v)
		}
	}

	var b strings.Builder
	if err := WriteTable(&b, r.Columns, rows); err != nil {
		return fmt.Sprintf("(render failed: %v)", err)
	}

	if r.Truncated {
		fmt.Fprintf(&b, "(showing the first %d rows)\n", len(r.Rows))
	}
	return b.String()
}
