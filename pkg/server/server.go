// Package server exposes a Service over HTTP and the Model Context
// Protocol.
package server

import (
	"context"

	"github.com/randalmurphal/askdata/pkg/askdata"
)

// Service is the part of *askdata.Bot the servers use.
type Service interface {
	Ask(ctx context.Context, question string) (*askdata.Answer, error)
	Resume(ctx context.Context, runID string) (*askdata.Answer, error)
	Runs(ctx context.Context, limit int) ([]askdata.RunInfo, error)
	DeleteRun(runID string) error
	Schema(ctx context.Context) (string, error)
	RefreshSchema(ctx context.Context) (string, error)
	Check(ctx context.Context) askdata.Health
}

var _ Service = (*askdata.Bot)(nil)
