package reload

import (
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
)

// TriggerWindowReload asks the editor to reload its renderer. The
// editor caches all conversation data in memory at startup and never
// watches its store files, so imported data only becomes visible after
// a window reload. Best effort: returns false when no editor window
// could be driven, which callers surface as "restart the editor".
func TriggerWindowReload(ctx context.Context, processName string) bool {
	switch runtime.GOOS {
	case "darwin":
		return reloadDarwin(ctx, processName)
	case "linux":
		return reloadLinux(ctx, processName)
	default:
		return false
	}
}

func reloadDarwin(ctx context.Context, processName string) bool {
	if err := exec.CommandContext(ctx, "pgrep", "-f", processName).Run(); err != nil {
		log.Debug().Str("process", processName).Msg("editor not running, skipping reload")
		return false
	}

	script := `
		tell application "` + processName + `" to activate
		delay 0.3
		tell application "System Events"
			keystroke "p" using {command down, shift down}
			delay 0.4
			keystroke "Developer: Reload Window"
			delay 0.3
			key code 36
		end tell
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "osascript", "-e", script).Run() == nil
}

func reloadLinux(ctx context.Context, processName string) bool {
	if _, err := exec.LookPath("xdotool"); err != nil {
		return false
	}

	out, err := exec.CommandContext(ctx, "xdotool", "search", "--name", processName).Output()
	if err != nil || len(out) == 0 {
		log.Debug().Str("process", processName).Msg("no editor window found, skipping reload")
		return false
	}
	windowID := firstLine(string(out))

	steps := [][]string{
		{"xdotool", "windowactivate", "--sync", windowID},
		{"xdotool", "key", "--window", windowID, "ctrl+shift+p"},
	}
	for _, step := range steps {
		if err := exec.CommandContext(ctx, step[0], step[1:]...).Run(); err != nil {
			return false
		}
	}
	time.Sleep(400 * time.Millisecond)
	if err := exec.CommandContext(ctx, "xdotool", "type", "--delay", "20", "Developer: Reload Window").Run(); err != nil {
		return false
	}
	time.Sleep(300 * time.Millisecond)
	return exec.CommandContext(ctx, "xdotool", "key", "Return").Run() == nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
