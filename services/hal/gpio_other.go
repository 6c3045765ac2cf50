//go:build !linux

package hal

import (
	"github.com/rs/zerolog"

	"doorbell-go/errcode"
	"doorbell-go/types"
)

func openHardware(cfg types.Config, log zerolog.Logger) (*Board, error) {
	return nil, errcode.Unsupported
}
