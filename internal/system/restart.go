// Package system owns process-level device actions.
package system

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Restarter triggers a device restart. The delay gives in-flight HTTP
// responses time to flush before the process goes away.
type Restarter interface {
	Restart(reason string, delay time.Duration)
}

// ProcessRestarter terminates the process after the delay; the service
// supervisor relaunches it, which boots the active slot.
type ProcessRestarter struct {
	exit func(code int)
}

// NewProcessRestarter creates the production restarter.
func NewProcessRestarter() *ProcessRestarter {
	return &ProcessRestarter{exit: os.Exit}
}

// Restart schedules the restart and returns immediately.
func (r *ProcessRestarter) Restart(reason string, delay time.Duration) {
	log.Warn().Str("reason", reason).Dur("delay", delay).Msg("device restart scheduled")
	go func() {
		time.Sleep(delay)
		r.exit(0)
	}()
}
