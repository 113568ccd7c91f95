package statefile

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// NewWriterID builds a diagnostic identifier for the calling process:
// hostname, pid, wall-clock seconds at construction, and a random suffix.
// The value is provenance only; conflict resolution never inspects it.
// Construct once per process and inject it into NewEngine so tests can
// substitute fixed identities.
func NewWriterID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%d-%d-%s", host, os.Getpid(), time.Now().Unix(), uuid.NewString()[:8])
}
