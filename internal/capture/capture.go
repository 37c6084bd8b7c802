package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/cmutcp/internal/config"
	"firestige.xyz/cmutcp/internal/log"
	"firestige.xyz/cmutcp/internal/metrics"
)

// errPollTimeout is returned by a Source when no frame arrived within its
// poll interval.
var errPollTimeout = errors.New("capture: poll timeout")

// Source yields raw Ethernet frames.
type Source interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Close()
}

// Limits bound a recording. Zero values are unbounded.
type Limits struct {
	Count    int
	Duration time.Duration
}

// Record copies frames from src to w until ctx is done, the source is
// exhausted or a limit is reached. It returns the number of frames written.
func Record(ctx context.Context, src Source, w *pcapgo.Writer, iface string, lim Limits) (int, error) {
	if lim.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lim.Duration)
		defer cancel()
	}

	frames := metrics.CapturedFramesTotal.WithLabelValues(iface)
	n := 0
	for ctx.Err() == nil {
		data, ci, err := src.ReadPacketData()
		switch {
		case errors.Is(err, errPollTimeout):
			continue
		case errors.Is(err, io.EOF):
			return n, nil
		case err != nil:
			return n, fmt.Errorf("read frame: %w", err)
		}

		if err := w.WritePacket(ci, data); err != nil {
			return n, fmt.Errorf("write frame: %w", err)
		}
		n++
		frames.Inc()
		if lim.Count > 0 && n >= lim.Count {
			break
		}
	}
	return n, nil
}

// Run captures CMU-TCP traffic on cfg.Interface into cfg.Output. Only UDP
// datagrams to or from port are kept.
func Run(ctx context.Context, cfg config.CaptureConfig, port uint16) (int, error) {
	src, err := Open(cfg, port)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	f, err := os.Create(cfg.Output)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(cfg.SnapLen), layers.LinkTypeEthernet); err != nil {
		return 0, err
	}

	logger := log.GetLogger().WithFields(map[string]interface{}{
		"interface": cfg.Interface,
		"port":      port,
		"output":    cfg.Output,
	})
	logger.Info("capture started")

	n, err := Record(ctx, src, w, cfg.Interface, Limits{Count: cfg.Count, Duration: cfg.Duration})
	logger.WithField("frames", n).Info("capture stopped")
	if err != nil {
		return n, err
	}
	return n, f.Sync()
}
