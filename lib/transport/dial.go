package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/go-i2p/go-darkstar/lib/record"
	"github.com/go-i2p/logger"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Dialer opens client sessions.
type Dialer struct {
	// ServerPublicKey is the server's 32-byte compact static key.
	ServerPublicKey []byte

	// Timeout bounds connecting plus the handshake. Zero means no limit
	// beyond the context passed to DialContext.
	Timeout time.Duration

	// Resolver looks up host names. Defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

// Dial connects to address with a default Dialer.
func Dial(address string, serverPublicKey []byte) (*Conn, error) {
	d := &Dialer{ServerPublicKey: serverPublicKey}
	return d.DialContext(context.Background(), address)
}

// DialContext connects to address, an IPv4 literal or a host name with an
// IPv4 record, and completes the client handshake.
func (d *Dialer) DialContext(ctx context.Context, address string) (*Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	id, err := d.ResolveIdentifier(ctx, address)
	if err != nil {
		return nil, err
	}
	hs, err := darkstar.NewClientHandshake(d.ServerPublicKey, id)
	if err != nil {
		return nil, err
	}

	var nd net.Dialer
	raw, err := nd.DialContext(ctx, "tcp4", id.String())
	if err != nil {
		return nil, WrapTransportError(err, "dialing "+id.String())
	}

	connID := uuid.NewString()
	keys, err := darkstar.ClientHandshakeContext(ctx, raw, hs)
	if err != nil {
		_ = raw.Close()
		log.WithError(err).WithFields(logger.Fields{
			"at":      "(Dialer) DialContext",
			"conn_id": connID,
			"server":  id.String(),
		}).Debug("client handshake failed")
		return nil, err
	}
	c, err := record.NewForRole(keys, darkstar.RoleClient)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"at":      "(Dialer) DialContext",
		"conn_id": connID,
		"server":  id.String(),
	}).Debug("DarkStar session established")
	return newConn(raw, c, darkstar.RoleClient, connID), nil
}

// ResolveIdentifier turns address into the identifier both sides bind into
// the handshake, resolving host names to their first IPv4 address.
func (d *Dialer) ResolveIdentifier(ctx context.Context, address string) (darkstar.ServerIdentifier, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return darkstar.ServerIdentifier{}, oops.Wrapf(darkstar.ErrInvalidServerIdentifier, "%v", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return darkstar.ServerIdentifier{}, oops.Wrapf(darkstar.ErrInvalidServerIdentifier, "invalid port %q", portStr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return darkstar.NewServerIdentifier(ip, uint16(port))
	}

	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ips, err := resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return darkstar.ServerIdentifier{}, WrapTransportError(err, "resolving "+host)
	}
	if len(ips) == 0 {
		return darkstar.ServerIdentifier{}, oops.Wrapf(ErrNoIPv4Address, "host %q", host)
	}
	return darkstar.NewServerIdentifier(ips[0], uint16(port))
}
