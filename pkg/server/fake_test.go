package server

import (
	"context"
	"errors"
	"strings"

	"github.com/randalmurphal/askdata/pkg/askdata"
)

type fakeService struct {
	answer    *askdata.Answer
	askErr    error
	runs      []askdata.RunInfo
	runsLimit int
	deleted   []string
	schema    string
	refreshed bool
	health    askdata.Health
}

func newFakeService() *fakeService {
	ok := askdata.Status{OK: true}
	return &fakeService{
		answer: &askdata.Answer{
			RunID:    "run-1",
			Question: "total bottled water sales",
			Kind:     askdata.KindDatabase,
			Text:     "Bottled water sold 12.5 million.",
			Steps:    []string{"sql generated", "sql sanitized", "sql executed", "answer: Bottled water sold 12.5 million."},
			SQL:      "SELECT SUM(amount) FROM product_sales_monthly",
		},
		runs: []askdata.RunInfo{
			{RunID: "run-1", Question: "total bottled water sales", Status: askdata.StatusCompleted, Checkpoints: 5},
		},
		schema: "CREATE TABLE product_sales_monthly (\n\tamount DECIMAL(14,2) NOT NULL\n);\n",
		health: askdata.Health{Database: ok, Schema: ok, LLM: ok},
	}
}

func (f *fakeService) Ask(_ context.Context, question string) (*askdata.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, askdata.ErrEmptyQuestion
	}
	if f.askErr != nil {
		return nil, f.askErr
	}
	a := *f.answer
	a.Question = question
	return &a, nil
}

func (f *fakeService) Resume(_ context.Context, runID string) (*askdata.Answer, error) {
	if runID != f.answer.RunID {
		return nil, askdata.ErrRunNotFound
	}
	return f.answer, nil
}

func (f *fakeService) Runs(_ context.Context, limit int) ([]askdata.RunInfo, error) {
	f.runsLimit = limit
	return f.runs, nil
}

func (f *fakeService) DeleteRun(runID string) error {
	if runID != f.answer.RunID {
		return askdata.ErrRunNotFound
	}
	f.deleted = append(f.deleted, runID)
	return nil
}

func (f *fakeService) Schema(context.Context) (string, error) {
	return f.schema, nil
}

func (f *fakeService) RefreshSchema(context.Context) (string, error) {
	f.refreshed = true
	if f.schema == "" {
		return "", errors.New("no tables found in the database")
	}
	return f.schema, nil
}

func (f *fakeService) Check(context.Context) askdata.Health {
	return f.health
}
