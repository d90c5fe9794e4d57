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
	"github.com/hotswap-io/hotswap/pkg/timeutil"
)

// ErrNoResponders indicates that rendezvous completed without any server
// answering.
var ErrNoResponders = errors.New("no servers responded")

// Target is a located server.
type Target struct {
	// Address is the server's command address ("host:port").
	Address string
	// Identity is the server's declared identity. It is empty for direct
	// targets.
	Identity string
}

// Locate resolves the servers an agent should connect to. If a host is
// configured, it is returned without any network traffic. Otherwise a probe is
// sent to the rendezvous address and replies are collected, retrying with
// exponential backoff until at least one server answers, the attempts are
// exhausted, or the context is done.
func Locate(ctx context.Context, configuration Configuration, logger *logging.Logger) ([]Target, error) {
	// Fill in defaults.
	configuration.normalize()

	// Handle direct mode.
	if configuration.Host != "" {
		address := net.JoinHostPort(configuration.Host, strconv.Itoa(configuration.Port))
		logger.Debugf("Using direct server address %s", address)
		return []Target{{Address: address}}, nil
	}

	// Resolve the rendezvous address.
	group, err := net.ResolveUDPAddr("udp4", configuration.Group)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve rendezvous address")
	}

	// Create the probing socket.
	connection, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create probe socket")
	}
	defer connection.Close()

	// Multicast probes stay on the local link and loop back to responders on
	// this host. Failures here only limit reachability, so they're logged.
	if group.IP.IsMulticast() {
		packetConnection := ipv4.NewPacketConn(connection)
		if err := packetConnection.SetMulticastTTL(1); err != nil {
			logger.Debugf("Unable to set multicast TTL: %v", err)
		}
		if err := packetConnection.SetMulticastLoopback(true); err != nil {
			logger.Debugf("Unable to enable multicast loopback: %v", err)
		}
	}

	// Abort blocking reads if the context is cancelled.
	cancelled := make(chan struct{})
	defer close(cancelled)
	go func() {
		select {
		case <-ctx.Done():
			connection.SetReadDeadline(time.Unix(1, 0))
		case <-cancelled:
		}
	}()

	// Encode the probe.
	message, err := json.Marshal(&probe{
		Magic:     probeMagic,
		Identity:  configuration.Identity,
		KeyDigest: keyDigest(configuration.Key),
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode probe")
	}

	// Perform probe attempts.
	backoff := timeutil.NewBackoff(configuration.InitialBackoff, configuration.MaximumBackoff)
	sightings := newDeduplicator(configuration.Window)
	buffer := make([]byte, maximumDatagramSize)
	for attempt := 1; attempt <= configuration.Attempts; attempt++ {
		// Bail if the context is done.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Send the probe. A send failure (e.g. no route) counts as an
		// unanswered attempt.
		logger.Debugf("Sending probe %d/%d to %s", attempt, configuration.Attempts, group)
		if _, err := connection.WriteToUDP(message, group); err != nil {
			logger.Debugf("Unable to send probe: %v", err)
		}

		// Collect replies until the window closes.
		var targets []Target
		deadline := time.Now().Add(configuration.Window)
		if contextDeadline, ok := ctx.Deadline(); ok && contextDeadline.Before(deadline) {
			deadline = contextDeadline
		}
		if err := connection.SetReadDeadline(deadline); err != nil {
			return nil, errors.Wrap(err, "unable to set read deadline")
		}
		for {
			length, source, err := connection.ReadFromUDP(buffer)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				} else if isTimeout(err) {
					break
				}
				return nil, errors.Wrap(err, "unable to read reply")
			}
			response, err := decodeReply(buffer[:length])
			if err != nil {
				logger.Debugf("Ignoring datagram from %s: %v", source, err)
				continue
			}
			address := net.JoinHostPort(source.IP.String(), strconv.Itoa(response.Port))
			if !sightings.observe(address+"|"+response.Identity, time.Now()) {
				logger.Tracef("Ignoring duplicate reply from %s", address)
				continue
			}
			logger.Debugf("Server %s replied from %s", response.Identity, address)
			targets = append(targets, Target{Address: address, Identity: response.Identity})
		}

		// If any servers answered, then we're done.
		if len(targets) > 0 {
			return targets, nil
		}

		// Wait before the next attempt, unless this was the last one.
		if attempt == configuration.Attempts {
			break
		}
		timer := time.NewTimer(backoff.Next())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timeutil.StopAndDrainTimer(timer)
			return nil, ctx.Err()
		}
	}

	// No servers answered.
	return nil, ErrNoResponders
}

// isTimeout returns whether or not an error is a network timeout.
func isTimeout(err error) bool {
	var networkErr net.Error
	return errors.As(err, &networkErr) && networkErr.Timeout()
}
