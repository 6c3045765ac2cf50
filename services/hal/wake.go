package hal

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"doorbell-go/types"
)

// WakeDetector resolves the wake cause once per boot, in order: explicit
// override, a cause file left by the power controller (consumed on read),
// the button already held at boot, otherwise Other.
type WakeDetector struct {
	Override string
	File     string
	Button   Button
	Log      zerolog.Logger

	resolved bool
	cause    types.WakeCause
}

func (w *WakeDetector) WakeCause() types.WakeCause {
	if !w.resolved {
		w.cause = w.detect()
		w.resolved = true
	}
	return w.cause
}

func (w *WakeDetector) detect() types.WakeCause {
	if w.Override != "" {
		if c, err := types.ParseWakeCause(w.Override); err == nil {
			return c
		}
		w.Log.Warn().Str("cause", w.Override).Msg("ignoring unknown wake cause override")
	}
	if w.File != "" {
		b, err := os.ReadFile(w.File)
		switch {
		case err == nil:
			if rmErr := os.Remove(w.File); rmErr != nil {
				w.Log.Warn().Err(rmErr).Msg("wake cause file not removed")
			}
			c, perr := types.ParseWakeCause(strings.TrimSpace(string(b)))
			if perr == nil {
				return c
			}
			w.Log.Warn().Err(perr).Msg("wake cause file")
		case !errors.Is(err, fs.ErrNotExist):
			w.Log.Warn().Err(err).Msg("wake cause file")
		}
	}
	if w.Button != nil && w.Button.Asserted() {
		return types.WakeSignal
	}
	return types.WakeOther
}
