package discovery

import (
	"context"
	"encoding/json"
	"net"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// fastConfiguration returns a configuration with short timings for tests.
func fastConfiguration(group, key string) Configuration {
	return Configuration{
		Group:          group,
		Identity:       "test-agent",
		Key:            key,
		Window:         100 * time.Millisecond,
		Attempts:       3,
		InitialBackoff: 10 * time.Millisecond,
		MaximumBackoff: 20 * time.Millisecond,
	}
}

func TestLocateDirect(t *testing.T) {
	targets, err := Locate(context.Background(), Configuration{Host: "10.0.0.5", Port: 9000}, nil)
	if err != nil {
		t.Fatal("direct location failed:", err)
	}
	if len(targets) != 1 {
		t.Fatal("unexpected target count:", len(targets))
	}
	if targets[0].Address != "10.0.0.5:9000" {
		t.Error("unexpected target address:", targets[0].Address)
	}
}

func TestLocateDirectDefaultPort(t *testing.T) {
	targets, err := Locate(context.Background(), Configuration{Host: "localhost"}, nil)
	if err != nil {
		t.Fatal("direct location failed:", err)
	}
	if targets[0].Address != "localhost:8887" {
		t.Error("unexpected target address:", targets[0].Address)
	}
}

// startResponder starts a unicast responder on the loopback interface.
func startResponder(t *testing.T, identity, key string, port int) (*Responder, context.CancelFunc) {
	t.Helper()
	responder, err := NewResponder(ResponderConfiguration{
		Group:       "127.0.0.1:0",
		Identity:    identity,
		Key:         key,
		CommandPort: port,
	}, nil)
	if err != nil {
		t.Fatal("unable to create responder:", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go responder.Serve(ctx)
	return responder, cancel
}

func TestLocateRendezvous(t *testing.T) {
	responder, cancel := startResponder(t, "srvr_one", "secret", 4321)
	defer cancel()

	targets, err := Locate(context.Background(), fastConfiguration(responder.Address().String(), "secret"), nil)
	if err != nil {
		t.Fatal("rendezvous failed:", err)
	}
	if len(targets) != 1 {
		t.Fatal("unexpected target count:", len(targets))
	}
	if targets[0].Address != "127.0.0.1:4321" {
		t.Error("unexpected target address:", targets[0].Address)
	}
	if targets[0].Identity != "srvr_one" {
		t.Error("unexpected target identity:", targets[0].Identity)
	}
}

func TestLocateKeyMismatch(t *testing.T) {
	responder, cancel := startResponder(t, "srvr_one", "secret", 4321)
	defer cancel()

	_, err := Locate(context.Background(), fastConfiguration(responder.Address().String(), "wrong"), nil)
	if err != ErrNoResponders {
		t.Fatal("expected no responders, got:", err)
	}
}

func TestLocateNoResponders(t *testing.T) {
	// Reserve a port and then close it so that nothing answers.
	listener, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal("unable to reserve port:", err)
	}
	address := listener.LocalAddr().String()
	listener.Close()

	start := time.Now()
	configuration := fastConfiguration(address, "secret")
	configuration.Window = 20 * time.Millisecond
	if _, err := Locate(context.Background(), configuration, nil); err != ErrNoResponders {
		t.Fatal("expected no responders, got:", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Error("rendezvous took too long:", elapsed)
	}
}

func TestLocateCancellation(t *testing.T) {
	listener, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal("unable to create silent listener:", err)
	}
	defer listener.Close()

	configuration := fastConfiguration(listener.LocalAddr().String(), "secret")
	configuration.Window = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := Locate(ctx, configuration, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected deadline exceeded, got:", err)
	}
}

// TestLocateMultipleAndDuplicateReplies uses a fake responder that answers a
// single probe on behalf of two servers, repeating one of the replies.
func TestLocateMultipleAndDuplicateReplies(t *testing.T) {
	listener, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal("unable to create fake responder:", err)
	}
	defer listener.Close()
	go func() {
		buffer := make([]byte, maximumDatagramSize)
		for {
			length, source, err := listener.ReadFrom(buffer)
			if err != nil {
				return
			}
			if _, err := decodeProbe(buffer[:length]); err != nil {
				continue
			}
			for _, r := range []reply{
				{Magic: replyMagic, Identity: "srvr_a", Port: 1001},
				{Magic: replyMagic, Identity: "srvr_a", Port: 1001},
				{Magic: "bogus", Identity: "srvr_c", Port: 1003},
				{Magic: replyMagic, Identity: "srvr_b", Port: 1002},
			} {
				message, _ := json.Marshal(&r)
				listener.WriteTo(message, source)
			}
		}
	}()

	targets, err := Locate(context.Background(), fastConfiguration(listener.LocalAddr().String(), "secret"), nil)
	if err != nil {
		t.Fatal("rendezvous failed:", err)
	}
	if len(targets) != 2 {
		t.Fatal("unexpected target count:", len(targets))
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Identity < targets[j].Identity })
	for i, port := range []int{1001, 1002} {
		expected := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
		if targets[i].Address != expected {
			t.Errorf("target %d address mismatch: %s != %s", i, targets[i].Address, expected)
		}
	}
}

func TestResponderInvalidPort(t *testing.T) {
	if _, err := NewResponder(ResponderConfiguration{Group: "127.0.0.1:0"}, nil); err == nil {
		t.Error("responder created without command port")
	}
}

func TestDecodeReplyValidation(t *testing.T) {
	if _, err := decodeReply([]byte("not json")); err == nil {
		t.Error("malformed reply accepted")
	}
	if _, err := decodeReply([]byte(`{"magic":"hotswap-reply/1","identity":"x","port":0}`)); err == nil {
		t.Error("reply with invalid port accepted")
	}
	if _, err := decodeReply([]byte(`{"magic":"hotswap-reply/1","identity":"x","port":80}`)); err != nil {
		t.Error("valid reply rejected:", err)
	}
}

func TestKeyDigestStable(t *testing.T) {
	if keyDigest("a") != keyDigest("a") {
		t.Error("key digest not deterministic")
	}
	if keyDigest("a") == keyDigest("b") {
		t.Error("distinct keys share a digest")
	}
	if keyDigest("a") == "a" {
		t.Error("key digest leaks key")
	}
}
