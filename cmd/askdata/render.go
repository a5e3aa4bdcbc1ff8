package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/randalmurphal/askdata/pkg/askdata"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

var (
	answerColor = color.New(color.FgGreen)
	chatColor   = color.New(color.FgCyan)
	sqlColor    = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

type answerView struct {
	showSQL    bool
	showResult bool
	asJSON     bool
}

func (v answerView) print(w io.Writer, a *askdata.Answer) error {
	if v.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}

	if v.showSQL && a.SQL != "" {
		sqlColor.Fprintf(w, "SQL:\n%s\n\n", a.SQL)
	}
	if v.showResult && a.Result != nil {
		fmt.Fprintln(w, a.Result.Text())
	}
	if v.showSQL && a.QueryError != "" {
		errorColor.Fprintf(w, "query error: %s\n\n", a.QueryError)
	}

	c := answerColor
	if a.Kind == askdata.KindChat {
		c = chatColor
	}
	c.Fprintln(w, a.Text)
	return nil
}

func printHealth(w io.Writer, h askdata.Health) error {
	var rows [][]string
	row := func(name string, s askdata.Status) {
		status := "ok"
		detail := s.Detail
		if !s.OK {
			status = "FAIL"
			detail = s.Error
		}
		rows = append(rows, []string{name, status, s.Latency.Round(time.Millisecond).String(), detail})
	}
	row("database ("+h.Dialect.Name()+")", h.Database)
	row("schema", h.Schema)
	row("llm", h.LLM)
	return sqldb.WriteTable(w, []string{"Component", "Status", "Latency", "Detail"}, rows)
}

func printRuns(w io.Writer, runs []askdata.RunInfo) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs")
		return err
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.RunID,
			r.Status,
			r.LastNode,
			strconv.Itoa(r.Checkpoints),
			r.UpdatedAt.Local().Format(time.DateTime),
			r.Question,
		})
	}
	return sqldb.WriteTable(w, []string{"Run ID", "Status", "Last Node", "Checkpoints", "Updated", "Question"}, rows)
}
