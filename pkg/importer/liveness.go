package importer

import (
	"os/exec"

	"github.com/rs/zerolog/log"
)

// editorRunning probes for a live editor process. pgrep exits 0 when at
// least one process matches; a missing pgrep binary is treated as "not
// running" since there is nothing better to ask.
func editorRunning(processName string) bool {
	cmd := exec.Command("pgrep", "-f", processName)
	err := cmd.Run()
	if err == nil {
		return true
	}
	if _, ok := err.(*exec.ExitError); ok {
		return false
	}
	log.Debug().Err(err).Msg("liveness probe unavailable, assuming editor is not running")
	return false
}
