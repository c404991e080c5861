package alerts

import "context"

type Notifier interface {
	// Notify reports an operator-facing problem from the named subsystem.
	Notify(ctx context.Context, subsystem string, err error, details string) error
}
