package hal

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"doorbell-go/errcode"
)

// CommandPower enters deep sleep by running an external command (rtcwake,
// a PMIC helper) and restarts by re-executing the current binary.
type CommandPower struct {
	// Command is argv; "{seconds}" in any argument becomes the timer delay.
	Command []string
	Log     zerolog.Logger

	// exec replaces the process image; swapped in tests.
	exec func() error
}

// Sleep runs the sleep command. A nil return means the command completed
// and execution resumed.
func (p *CommandPower) Sleep(d time.Duration) error {
	if len(p.Command) == 0 {
		return &errcode.E{C: errcode.SleepFailed, Op: "power.sleep", Msg: "no sleep command configured"}
	}
	secs := strconv.FormatInt(int64(d/time.Second), 10)
	argv := make([]string, len(p.Command))
	for i, a := range p.Command {
		argv[i] = strings.ReplaceAll(a, "{seconds}", secs)
	}
	p.Log.Info().Strs("argv", argv).Msg("entering deep sleep")

	cmd := exec.CommandContext(context.Background(), argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &errcode.E{C: errcode.SleepFailed, Op: "power.sleep", Msg: strings.TrimSpace(string(out)), Err: err}
	}
	return nil
}

// Restart replaces the running process with a fresh copy of itself. It only
// returns on failure.
func (p *CommandPower) Restart() error {
	run := p.exec
	if run == nil {
		run = reexec
	}
	p.Log.Warn().Msg("restarting")
	if err := run(); err != nil {
		return &errcode.E{C: errcode.SleepFailed, Op: "power.restart", Err: err}
	}
	return nil
}
