// Package alerts surfaces operational problems (audit drift, backend
// outages) to whoever is watching the logs. The journal sink keeps an
// append-only file so incidents survive process restarts.
package alerts

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Infra struct {
	log *zap.Logger

	mu      sync.Mutex
	journal string
}

// NewInfra builds the default sink. journalPath may be empty, in which
// case alerts only go to the structured log.
func NewInfra(log *zap.Logger, journalPath string) *Infra {
	return &Infra{log: log, journal: journalPath}
}

func (i *Infra) Notify(ctx context.Context, subsystem string, err error, details string) error {
	i.log.Error("alert",
		zap.String("subsystem", subsystem),
		zap.Error(err),
		zap.String("details", details))

	if i.journal == "" {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	f, openErr := os.OpenFile(i.journal, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		return fmt.Errorf("open alert journal: %w", openErr)
	}
	defer f.Close()

	line := fmt.Sprintf("%s\t%s\t%v\t%s\n",
		time.Now().UTC().Format(time.RFC3339), subsystem, err, details)
	if _, writeErr := f.WriteString(line); writeErr != nil {
		return fmt.Errorf("append alert journal: %w", writeErr)
	}
	return nil
}
