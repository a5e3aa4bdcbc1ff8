package sqldb

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// SampleTable is the table Seed creates.
const SampleTable = "product_sales_monthly"

var (
	//go:embed seed/schema.sql
	seedSchema string

	//go:embed seed/data.sql
	seedData string
)

// Seed (re)creates the product_sales_monthly sample table and fills it
// with six months of beverage sales. Rows with a NULL region, province or
// channel are totals over that dimension.
func Seed(ctx context.Context, db *sqlx.DB) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range statements(seedSchema + "\n" + seedData) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// statements splits a script on semicolons that end a line. The seed files
// keep every statement terminator at a line end.
func statements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";\n") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, strings.TrimSuffix(s, ";"))
		}
	}
	return out
}
