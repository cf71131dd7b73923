package darkstar

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/samber/oops"
)

// ServerIdentifierSize is IPv4 host (4) plus big-endian port (2).
const ServerIdentifierSize = 6

// ServerIdentifier binds handshake material to the server's logical endpoint.
// Both sides must derive it from the same host:port.
type ServerIdentifier [ServerIdentifierSize]byte

// NewServerIdentifier builds an identifier from an IPv4 address and port.
func NewServerIdentifier(ip net.IP, port uint16) (ServerIdentifier, error) {
	var id ServerIdentifier
	v4 := ip.To4()
	if v4 == nil {
		return id, oops.Wrapf(ErrInvalidServerIdentifier, "%v is not an IPv4 address", ip)
	}
	copy(id[:4], v4)
	binary.BigEndian.PutUint16(id[4:], port)
	return id, nil
}

// ParseServerIdentifier parses a literal "a.b.c.d:port" endpoint. Host names
// must be resolved by the caller first.
func ParseServerIdentifier(hostport string) (ServerIdentifier, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return ServerIdentifier{}, oops.Wrapf(ErrInvalidServerIdentifier, "%v", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ServerIdentifier{}, oops.Wrapf(ErrInvalidServerIdentifier, "host %q is not an IP literal", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ServerIdentifier{}, oops.Wrapf(ErrInvalidServerIdentifier, "invalid port %q", portStr)
	}
	return NewServerIdentifier(ip, uint16(port))
}

func (id ServerIdentifier) Bytes() []byte {
	out := make([]byte, ServerIdentifierSize)
	copy(out, id[:])
	return out
}

func (id ServerIdentifier) String() string {
	ip := net.IPv4(id[0], id[1], id[2], id[3])
	port := binary.BigEndian.Uint16(id[4:])
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
}
