package tracker

import (
	"cmp"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/nettrace/internal/errors"
)

// Protocol is a transport protocol as reported by the capture tool.
type Protocol string

const (
	ProtocolAny  Protocol = ""
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolICMP Protocol = "icmp"
)

// ParseProtocol accepts tcp, udp, icmp (and icmp6) case-insensitively. An
// empty string or "any" means any protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return ProtocolAny, nil
	case "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	case "icmp", "icmp6", "icmpv6":
		return ProtocolICMP, nil
	default:
		return ProtocolAny, errors.NewValidationError("unknown protocol").WithValue(s)
	}
}

// Endpoint is an address and port. Port is zero for ICMP.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// String renders the endpoint as addr:port, or the bare address when the
// port is zero.
func (e Endpoint) String() string {
	if e.Port == 0 {
		return e.Addr.String()
	}
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// Compare orders endpoints by address, then port.
func (e Endpoint) Compare(o Endpoint) int {
	if c := e.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	return cmp.Compare(e.Port, o.Port)
}

// Descriptor selects the endpoints belonging to a channel. Addresses may be
// literal IPs, CIDR prefixes or globs such as "10.0.10.*". Port 0 matches any
// port.
type Descriptor struct {
	Protocol  Protocol `yaml:"protocol,omitempty"`
	Addresses []string `yaml:"addresses"`
	Port      int      `yaml:"port,omitempty"`
}

// String renders the descriptor for logs and reports.
func (d Descriptor) String() string {
	var sb strings.Builder
	if d.Protocol != ProtocolAny {
		sb.WriteString(string(d.Protocol))
		sb.WriteByte(' ')
	}
	sb.WriteString(strings.Join(d.Addresses, ","))
	if d.Port != 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(d.Port))
	}
	return sb.String()
}

// Compile validates d and returns its matcher.
func (d Descriptor) Compile() (*Matcher, error) {
	proto, err := ParseProtocol(string(d.Protocol))
	if err != nil {
		return nil, err
	}
	if len(d.Addresses) == 0 {
		return nil, errors.NewValidationError("descriptor has no addresses").WithField("addresses")
	}
	if d.Port < 0 || d.Port > 65535 {
		return nil, errors.NewValidationError("port out of range").WithField("port").WithValue(d.Port)
	}

	m := &Matcher{protocol: proto, port: uint16(d.Port)}
	for _, raw := range d.Addresses {
		pattern := strings.TrimSpace(raw)
		switch {
		case pattern == "":
			return nil, errors.NewValidationError("empty address pattern").WithField("addresses")
		case strings.Contains(pattern, "/"):
			prefix, err := netip.ParsePrefix(pattern)
			if err != nil {
				return nil, errors.NewValidationError("invalid prefix").WithValue(pattern).WithCause(err)
			}
			m.prefixes = append(m.prefixes, prefix.Masked())
		case strings.ContainsAny(pattern, "*?[{"):
			g, err := glob.Compile(pattern, '.', ':')
			if err != nil {
				return nil, errors.NewValidationError("invalid address glob").WithValue(pattern).WithCause(err)
			}
			m.globs = append(m.globs, g)
		default:
			addr, err := netip.ParseAddr(pattern)
			if err != nil {
				return nil, errors.NewValidationError("invalid address").WithValue(pattern).WithCause(err)
			}
			m.addrs = append(m.addrs, addr.Unmap())
		}
	}
	return m, nil
}

// Matcher is a compiled Descriptor.
type Matcher struct {
	protocol Protocol
	port     uint16
	addrs    []netip.Addr
	prefixes []netip.Prefix
	globs    []glob.Glob
}

// MatchesProtocol reports whether p is accepted.
func (m *Matcher) MatchesProtocol(p Protocol) bool {
	return m.protocol == ProtocolAny || m.protocol == p
}

// MatchesEndpoint reports whether ep satisfies the address and port patterns.
func (m *Matcher) MatchesEndpoint(ep Endpoint) bool {
	if m.port != 0 && ep.Port != m.port {
		return false
	}
	addr := ep.Addr.Unmap()
	for _, a := range m.addrs {
		if a == addr {
			return true
		}
	}
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	if len(m.globs) > 0 {
		s := addr.String()
		for _, g := range m.globs {
			if g.Match(s) {
				return true
			}
		}
	}
	return false
}

// Peer returns the endpoint of rec that did not match, which identifies the
// connection. When both endpoints match, a known direction picks the remote
// side; otherwise the lower endpoint is used so a request and its reply
// share a peer.
func (m *Matcher) Peer(rec Record) (Endpoint, bool) {
	if !m.MatchesProtocol(rec.Protocol) {
		return Endpoint{}, false
	}
	dst, src := m.MatchesEndpoint(rec.Dst), m.MatchesEndpoint(rec.Src)
	switch {
	case dst && src:
		switch rec.Direction {
		case DirectionOutbound:
			return rec.Dst, true
		case DirectionInbound:
			return rec.Src, true
		}
		if rec.Src.Compare(rec.Dst) <= 0 {
			return rec.Src, true
		}
		return rec.Dst, true
	case dst:
		return rec.Src, true
	case src:
		return rec.Dst, true
	}
	return Endpoint{}, false
}

// ConnectionKey identifies a counted connection within a channel.
type ConnectionKey struct {
	Protocol Protocol
	Peer     Endpoint
}

// String renders the key as "proto peer".
func (k ConnectionKey) String() string {
	return fmt.Sprintf("%s %s", k.Protocol, k.Peer)
}
