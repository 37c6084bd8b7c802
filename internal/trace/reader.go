package trace

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/cmutcp/internal/log"
)

// pcapng section header block type
var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReadFile reads a classic pcap or pcapng file.
func ReadFile(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	defer f.Close()

	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}
	return c, nil
}

// Read decodes every frame of r and keeps the UDP datagrams in order.
func Read(r io.Reader) (*Capture, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}

	var src packetSource
	if bytes.Equal(magic, ngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, err
	}

	logger := log.GetLogger().WithField("link_type", src.LinkType().String())
	capture := &Capture{}
	for {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read packet %d: %w", capture.Frames+1, err)
		}
		capture.Frames++

		pkt, ok := decodeDatagram(data, src.LinkType(), ci)
		if !ok {
			continue
		}
		capture.Packets = append(capture.Packets, pkt)
	}

	logger.Debugf("read %d frames, %d udp datagrams", capture.Frames, len(capture.Packets))
	return capture, nil
}

// decodeDatagram extracts the UDP datagram of one frame, if there is one.
func decodeDatagram(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) (Packet, bool) {
	p := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return Packet{}, false
	}

	var srcIP, dstIP netip.Addr
	switch ip := p.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		dstIP, _ = netip.AddrFromSlice(ip.DstIP.To4())
	case *layers.IPv6:
		srcIP, _ = netip.AddrFromSlice(ip.SrcIP)
		dstIP, _ = netip.AddrFromSlice(ip.DstIP)
	default:
		return Packet{}, false
	}

	payload := make([]byte, len(udp.Payload))
	copy(payload, udp.Payload)

	length := ci.Length
	if length == 0 {
		length = len(data)
	}

	return Packet{
		Timestamp: ci.Timestamp,
		Src:       netip.AddrPortFrom(srcIP, uint16(udp.SrcPort)),
		Dst:       netip.AddrPortFrom(dstIP, uint16(udp.DstPort)),
		Payload:   payload,
		Length:    length,
	}, true
}
