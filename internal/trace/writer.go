package trace

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const writerSnapLen = 65536

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Writer writes UDP datagrams into a pcap file, framing each one in
// synthetic Ethernet and IP headers.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(writerSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw}, nil
}

// CreateFile creates (or truncates) path and returns a Writer for it.
func CreateFile(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %s: %w", path, err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WriteDatagram appends one datagram. Source and destination must be of the
// same address family.
func (w *Writer) WriteDatagram(ts time.Time, src, dst netip.AddrPort, payload []byte) error {
	data, err := frame(src, dst, payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

// WritePacket appends a packet read from another capture.
func (w *Writer) WritePacket(p Packet) error {
	return w.WriteDatagram(p.Timestamp, p.Src, p.Dst, p.Payload)
}

// Close closes the underlying file, if the Writer owns one.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

func frame(src, dst netip.AddrPort, payload []byte) ([]byte, error) {
	srcAddr, dstAddr := src.Addr().Unmap(), dst.Addr().Unmap()
	if srcAddr.Is4() != dstAddr.Is4() {
		return nil, fmt.Errorf("address family mismatch: %s -> %s", src, dst)
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port()), DstPort: layers.UDPPort(dst.Port())}

	var network gopacket.SerializableLayer
	if srcAddr.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP(srcAddr.AsSlice()),
			DstIP:    net.IP(dstAddr.AsSlice()),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      net.IP(srcAddr.AsSlice()),
			DstIP:      net.IP(dstAddr.AsSlice()),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize datagram: %w", err)
	}
	return buf.Bytes(), nil
}
