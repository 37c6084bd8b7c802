package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"

	"firestige.xyz/cmutcp/internal/config"
)

const pollTimeout = 100 * time.Millisecond

type afSource struct {
	tp *afpacket.TPacket
}

// Open binds a TPACKET_V3 ring to cfg.Interface with the port filter attached.
func Open(cfg config.CaptureConfig, port uint16) (Source, error) {
	frameSize, blockSize, numBlocks, err := ringSize(cfg.BufferMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Interface, err)
	}

	filter, err := Filter(port, cfg.SnapLen)
	if err != nil {
		tp.Close()
		return nil, err
	}
	if err := tp.SetBPF(filter); err != nil {
		tp.Close()
		return nil, fmt.Errorf("attach filter: %w", err)
	}
	return &afSource{tp: tp}, nil
}

func (s *afSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.tp.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, errPollTimeout
	}
	return data, ci, err
}

func (s *afSource) Close() {
	s.tp.Close()
}
