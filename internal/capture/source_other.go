//go:build !linux

package capture

import (
	"firestige.xyz/cmutcp/internal/config"
	"firestige.xyz/cmutcp/internal/core"
)

// Open is only available on Linux.
func Open(cfg config.CaptureConfig, port uint16) (Source, error) {
	return nil, core.ErrUnsupportedPlatform
}
