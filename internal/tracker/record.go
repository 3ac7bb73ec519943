package tracker

import (
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Direction of a record relative to the local peer.
type Direction string

const (
	DirectionUnknown  Direction = "unknown"
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Record is one observed packet or flow event.
type Record struct {
	// Time is when the record was captured. Zero when the source line
	// carries no usable date; the ledger stamps those on arrival.
	Time      time.Time
	Protocol  Protocol
	Src       Endpoint
	Dst       Endpoint
	Direction Direction
}

// Resolve fills an unknown direction from the local networks: outbound when
// the source is local, inbound when only the destination is.
func (r Record) Resolve(localNets []netip.Prefix) Record {
	if r.Direction != "" && r.Direction != DirectionUnknown {
		return r
	}
	r.Direction = DirectionUnknown
	switch {
	case containsAddr(localNets, r.Src.Addr):
		r.Direction = DirectionOutbound
	case containsAddr(localNets, r.Dst.Addr):
		r.Direction = DirectionInbound
	}
	return r
}

func containsAddr(nets []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range nets {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseLine parses tcpdump -n text or a conntrack event line.
func ParseLine(line string) (Record, bool) {
	if rec, ok := ParseTcpdumpLine(line); ok {
		return rec, true
	}
	return ParseConntrackLine(line)
}

// ParseTcpdumpLine parses a line printed by tcpdump -n, for example
//
//	12:00:01.000001 eth0 Out IP 10.0.0.2.41641 > 10.0.1.1.3478: UDP, length 20
func ParseTcpdumpLine(line string) (Record, bool) {
	fields := strings.Fields(line)

	family := -1
	for i, f := range fields {
		if f == "IP" || f == "IP6" {
			family = i
			break
		}
	}
	// Need "src > dst:" after the family token.
	if family < 0 || len(fields) < family+4 || fields[family+2] != ">" {
		return Record{}, false
	}

	rec := Record{Direction: DirectionUnknown}
	for _, f := range fields[:family] {
		switch f {
		case "Out":
			rec.Direction = DirectionOutbound
		case "In":
			rec.Direction = DirectionInbound
		}
	}

	src, ok := parseDottedEndpoint(fields[family+1])
	if !ok {
		return Record{}, false
	}
	dstField, ok := strings.CutSuffix(fields[family+3], ":")
	if !ok {
		return Record{}, false
	}
	dst, ok := parseDottedEndpoint(dstField)
	if !ok {
		return Record{}, false
	}
	rec.Src, rec.Dst = src, dst

	rest := strings.Join(fields[family+4:], " ")
	switch {
	case strings.HasPrefix(rest, "ICMP"):
		rec.Protocol = ProtocolICMP
	case strings.HasPrefix(rest, "Flags ["), strings.HasPrefix(rest, "tcp "):
		rec.Protocol = ProtocolTCP
	case src.Port != 0 && dst.Port != 0:
		rec.Protocol = ProtocolUDP
	default:
		return Record{}, false
	}

	if rec.Protocol == ProtocolICMP {
		rec.Src.Port, rec.Dst.Port = 0, 0
	}
	return rec, true
}

// parseDottedEndpoint parses tcpdump's "addr.port" form, or a bare address.
func parseDottedEndpoint(s string) (Endpoint, bool) {
	if addr, err := netip.ParseAddr(s); err == nil {
		return Endpoint{Addr: addr.Unmap()}, true
	}
	i := strings.LastIndexByte(s, '.')
	if i <= 0 {
		return Endpoint{}, false
	}
	addr, err := netip.ParseAddr(s[:i])
	if err != nil {
		return Endpoint{}, false
	}
	port, err := strconv.ParseUint(s[i+1:], 10, 16)
	if err != nil {
		return Endpoint{}, false
	}
	return Endpoint{Addr: addr.Unmap(), Port: uint16(port)}, true
}

// ParseConntrackLine parses a conntrack -E event line, for example
//
//	[NEW] tcp      6 120 SYN_SENT src=10.0.0.2 dst=10.0.10.1 sport=41000 dport=8765 [UNREPLIED] src=...
//
// Only the original direction tuple (the first of each key) is used.
func ParseConntrackLine(line string) (Record, bool) {
	rec := Record{Direction: DirectionUnknown}
	var haveSrc, haveDst, haveProto bool

	for _, f := range strings.Fields(line) {
		if !haveProto {
			if p, err := ParseProtocol(f); err == nil && p != ProtocolAny {
				rec.Protocol = p
				haveProto = true
				continue
			}
		}
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch key {
		case "src":
			if haveSrc {
				continue
			}
			addr, err := netip.ParseAddr(value)
			if err != nil {
				return Record{}, false
			}
			rec.Src.Addr, haveSrc = addr.Unmap(), true
		case "dst":
			if haveDst {
				continue
			}
			addr, err := netip.ParseAddr(value)
			if err != nil {
				return Record{}, false
			}
			rec.Dst.Addr, haveDst = addr.Unmap(), true
		case "sport", "dport":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return Record{}, false
			}
			target := &rec.Src.Port
			if key == "dport" {
				target = &rec.Dst.Port
			}
			if *target == 0 {
				*target = uint16(port)
			}
		}
	}

	if !haveProto || !haveSrc || !haveDst {
		return Record{}, false
	}
	if rec.Protocol == ProtocolICMP {
		rec.Src.Port, rec.Dst.Port = 0, 0
	}
	return rec, true
}
