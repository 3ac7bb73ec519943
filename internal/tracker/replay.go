package tracker

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Iron-Ham/nettrace/internal/errors"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets int // packets read from the file
	Records int // packets observed by the ledger
}

// ReplayPcap decodes a pcap or pcapng stream and observes every IPv4/IPv6
// TCP, UDP or ICMP packet in ledger. Packet timestamps become record times.
// localNets resolve each record's direction.
func ReplayPcap(r io.Reader, ledger *Ledger, localNets []netip.Prefix) (ReplayStats, error) {
	var stats ReplayStats

	br := bufio.NewReader(r)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return stats, errors.Wrap(err, "read capture header")
	}

	var src packetReader
	if bytes.Equal(magic, pcapngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return stats, errors.Wrap(err, "open capture")
	}

	linkType := src.LinkType()
	for {
		data, ci, err := src.ReadPacketData()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, errors.Wrapf(err, "read packet %d", stats.Packets+1)
		}
		stats.Packets++

		pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		rec, ok := recordFromPacket(pkt, ci.Timestamp)
		if !ok {
			continue
		}
		ledger.Observe(rec.Resolve(localNets))
		stats.Records++
	}
}

func recordFromPacket(pkt gopacket.Packet, ts time.Time) (Record, bool) {
	var srcIP, dstIP net.IP
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	case *layers.IPv6:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	default:
		return Record{}, false
	}

	srcAddr, ok1 := netip.AddrFromSlice(srcIP)
	dstAddr, ok2 := netip.AddrFromSlice(dstIP)
	if !ok1 || !ok2 {
		return Record{}, false
	}

	rec := Record{
		Time:      ts,
		Src:       Endpoint{Addr: srcAddr.Unmap()},
		Dst:       Endpoint{Addr: dstAddr.Unmap()},
		Direction: DirectionUnknown,
	}

	switch {
	case pkt.Layer(layers.LayerTypeTCP) != nil:
		tcp := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		rec.Protocol = ProtocolTCP
		rec.Src.Port, rec.Dst.Port = uint16(tcp.SrcPort), uint16(tcp.DstPort)
	case pkt.Layer(layers.LayerTypeUDP) != nil:
		udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		rec.Protocol = ProtocolUDP
		rec.Src.Port, rec.Dst.Port = uint16(udp.SrcPort), uint16(udp.DstPort)
	case pkt.Layer(layers.LayerTypeICMPv4) != nil, pkt.Layer(layers.LayerTypeICMPv6) != nil:
		rec.Protocol = ProtocolICMP
	default:
		return Record{}, false
	}
	return rec, true
}
