package notifier

import (
	"context"

	"github.com/newthinker/dbbackup/internal/core"
)

// Notifier delivers the outcome of a backup run
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Notify sends a summary of the finished run
	Notify(ctx context.Context, report *core.RunReport) error
}
