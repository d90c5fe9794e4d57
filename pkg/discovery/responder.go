package discovery

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"golang.org/x/net/ipv4"

	"github.com/hotswap-io/hotswap/pkg/logging"
)

// ResponderConfiguration controls a Responder.
type ResponderConfiguration struct {
	// Group is the rendezvous address ("ip:port"). Multicast groups are
	// joined on every multicast-capable interface. Unicast addresses are
	// listened on directly.
	Group string
	// Identity is the server identity announced in replies.
	Identity string
	// Key is the shared key. Probes with a different key digest are ignored.
	Key string
	// CommandPort is the command port announced in replies.
	CommandPort int
}

// Responder answers rendezvous probes on behalf of a server.
type Responder struct {
	// logger is the underlying logger.
	logger *logging.Logger
	// configuration is the responder configuration.
	configuration ResponderConfiguration
	// digest is the expected key digest.
	digest string
	// connection is the listening socket.
	connection net.PacketConn
}

// NewResponder creates a new responder listening on the rendezvous address.
func NewResponder(configuration ResponderConfiguration, logger *logging.Logger) (*Responder, error) {
	// Validate the configuration.
	if configuration.Group == "" {
		configuration.Group = DefaultGroup()
	}
	if configuration.CommandPort <= 0 || configuration.CommandPort > 65535 {
		return nil, errors.Errorf("invalid command port (%d)", configuration.CommandPort)
	}

	// Resolve the rendezvous address.
	group, err := net.ResolveUDPAddr("udp4", configuration.Group)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve rendezvous address")
	}

	// Create the listening socket. Multicast groups bind the wildcard address
	// on the group port so that group traffic is delivered.
	listenConfig := &net.ListenConfig{Control: reuseControl}
	address := group.String()
	if group.IP.IsMulticast() {
		address = net.JoinHostPort("0.0.0.0", strconv.Itoa(group.Port))
	}
	connection, err := listenConfig.ListenPacket(context.Background(), "udp4", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to listen for probes")
	}

	// Join the group if necessary.
	if group.IP.IsMulticast() {
		if err := joinGroup(connection, group, logger); err != nil {
			connection.Close()
			return nil, err
		}
	}

	// Success.
	return &Responder{
		logger:        logger,
		configuration: configuration,
		digest:        keyDigest(configuration.Key),
		connection:    connection,
	}, nil
}

// joinGroup joins a multicast group on every interface that supports it.
func joinGroup(connection net.PacketConn, group *net.UDPAddr, logger *logging.Logger) error {
	// Grab the interface list.
	interfaces, err := net.Interfaces()
	if err != nil {
		return errors.Wrap(err, "unable to list network interfaces")
	}

	// Join on each eligible interface.
	packetConnection := ipv4.NewPacketConn(connection)
	var joined int
	for i := range interfaces {
		if interfaces[i].Flags&net.FlagUp == 0 || interfaces[i].Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := packetConnection.JoinGroup(&interfaces[i], &net.UDPAddr{IP: group.IP}); err != nil {
			logger.Debugf("Unable to join %s on %s: %v", group.IP, interfaces[i].Name, err)
			continue
		}
		logger.Debugf("Joined %s on %s", group.IP, interfaces[i].Name)
		joined++
	}
	if joined == 0 {
		return errors.Errorf("unable to join %s on any interface", group.IP)
	}
	return nil
}

// Address returns the address on which the responder is listening.
func (r *Responder) Address() net.Addr {
	return r.connection.LocalAddr()
}

// Serve answers probes until the context is cancelled or the responder is
// closed. It always returns a non-nil error.
func (r *Responder) Serve(ctx context.Context) error {
	// Close the socket when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.connection.Close()
		case <-done:
		}
	}()

	// Encode the reply.
	message, err := json.Marshal(&reply{
		Magic:    replyMagic,
		Identity: r.configuration.Identity,
		Port:     r.configuration.CommandPort,
	})
	if err != nil {
		return errors.Wrap(err, "unable to encode reply")
	}

	// Answer probes. Agents retry unanswered probes, so every valid probe is
	// answered, but only the first sighting in a window is logged at info.
	sightings := newDeduplicator(time.Minute)
	buffer := make([]byte, maximumDatagramSize)
	for {
		length, source, err := r.connection.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "unable to read probe")
		}
		request, err := decodeProbe(buffer[:length])
		if err != nil {
			r.logger.Debugf("Ignoring datagram from %s: %v", source, err)
			continue
		} else if request.KeyDigest != r.digest {
			r.logger.Debugf("Ignoring probe from %s with mismatched key", source)
			continue
		}
		if sightings.observe(source.String()+"|"+request.Identity, time.Now()) {
			r.logger.Infof("Probe from agent %q at %s", request.Identity, source)
		} else {
			r.logger.Tracef("Repeated probe from agent %q at %s", request.Identity, source)
		}
		if _, err := r.connection.WriteTo(message, source); err != nil {
			r.logger.Warnf("Unable to reply to %s: %v", source, err)
		}
	}
}

// Close closes the responder's socket, terminating Serve.
func (r *Responder) Close() error {
	return r.connection.Close()
}
