package session

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/handshake"
	"github.com/hotswap-io/hotswap/pkg/identifier"
	"github.com/hotswap-io/hotswap/pkg/logging"
	"github.com/hotswap-io/hotswap/pkg/protocol"
)

func TestNewSession(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	session, err := New(server, Configuration{}, nil)
	if err != nil {
		t.Fatal("unable to create session:", err)
	}
	defer session.Close()
	if !identifier.IsValid(session.Identifier()) {
		t.Error("invalid session identifier:", session.Identifier())
	}
	if session.State() != StateConnecting {
		t.Error("new session not connecting:", session.State())
	}
	if session.configuration.CommandTimeout != DefaultCommandTimeout {
		t.Error("command timeout not defaulted")
	}
}

// TestHelloAndLoad tests a hello burst followed by an acknowledged module
// load.
func TestHelloAndLoad(t *testing.T) {
	r := connect(t, Configuration{})
	r.greet(t, "macos-arm64", "/tmp/x", "/Users/dev/App")

	info := r.session.Info()
	if info.Version != 4001 {
		t.Error("unexpected negotiated version:", info.Version)
	}
	if info.Platform != "macos-arm64" || info.TmpPath != "/tmp/x" {
		t.Error("hello burst not recorded:", info.Platform, info.TmpPath)
	}
	if info.State != StateIdle {
		t.Error("session not idle after hello burst:", info.State)
	}

	outcome := r.session.Submit(protocol.LoadDylib{Path: "/tmp/x/eval_injection_1.dylib"})
	command := r.client.receive()
	if load, ok := command.(protocol.LoadDylib); !ok || load.Path != "/tmp/x/eval_injection_1.dylib" {
		t.Fatal("unexpected command received:", command)
	}
	waitFor(t, "awaiting response", func() bool { return r.session.State() == StateAwaitingResponse })
	r.client.send(protocol.Injected{})

	result := await(t, outcome)
	if result.Err != nil {
		t.Error("load failed:", result.Err)
	}
	if result.Session != r.session.Identifier() {
		t.Error("outcome session mismatch")
	}
	waitFor(t, "idle", func() bool { return r.session.State() == StateIdle })
	if info := r.session.Info(); info.Acknowledged != 1 || info.Sequence != 1 {
		t.Error("unexpected counters:", info.Acknowledged, info.Sequence)
	}
}

func TestToolchainPathRecorded(t *testing.T) {
	r := connect(t, Configuration{})
	r.greet(t, "macos-arm64", "/tmp/x", "/Users/dev/App")

	outcome := r.session.Submit(protocol.RequestXcodePath{})
	if _, ok := r.client.receive().(protocol.RequestXcodePath); !ok {
		t.Fatal("expected toolchain path request")
	}
	r.client.send(protocol.Injected{Detail: "/Applications/Xcode.app/Contents/Developer"})
	if result := await(t, outcome); result.Err != nil || result.Detail != "/Applications/Xcode.app/Contents/Developer" {
		t.Fatal("unexpected outcome:", result)
	}
	if path := r.session.Info().ToolchainPath; path != "/Applications/Xcode.app/Contents/Developer" {
		t.Error("toolchain path not recorded:", path)
	}

	// Details of other acknowledgements don't affect the toolchain path.
	outcome = r.session.Submit(protocol.LoadDylib{Path: "/tmp/x/eval_injection_1.dylib"})
	r.client.receive()
	r.client.send(protocol.Injected{Detail: "loaded"})
	await(t, outcome)
	if path := r.session.Info().ToolchainPath; path != "/Applications/Xcode.app/Contents/Developer" {
		t.Error("toolchain path overwritten:", path)
	}
}

func TestCommandLogsIncludeSequence(t *testing.T) {
	output := &logBuffer{}
	r := negotiateWithLogger(t, Configuration{}, logging.NewLogger(logging.LevelDebug, output))
	r.start()
	r.greet(t, "macos-arm64", "/tmp/x", "/Users/dev/App")

	// Acknowledge one command and fail another.
	outcome := r.session.Submit(protocol.Log{Message: "hello"})
	r.client.receive()
	r.client.send(protocol.Injected{})
	await(t, outcome)
	outcome = r.session.Submit(protocol.Inject{TypeName: "MyView", Path: "/tmp/x/eval_injection_1.dylib"})
	r.client.receive()
	r.client.send(protocol.Failed{Reason: "symbol not found"})
	if result := await(t, outcome); result.Err == nil {
		t.Fatal("failure not reported")
	}

	// Each log line identifies the command by its sequence number.
	logs := output.String()
	for _, expected := range []string{
		"Sent Log #1",
		"Log #1 acknowledged",
		"Sent Inject #2",
		"Inject #2 failed on macos-arm64: symbol not found",
	} {
		if !strings.Contains(logs, expected) {
			t.Errorf("log output missing %q", expected)
		}
	}
}

// TestCommandFailureKeepsSessionOpen tests that a reported failure is
// recoverable.
func TestCommandFailureKeepsSessionOpen(t *testing.T) {
	r := connect(t, Configuration{})
	r.greet(t, "macos-arm64", "/tmp/x", "/Users/dev/App")

	outcome := r.session.Submit(protocol.Inject{TypeName: "MyView", Path: "/tmp/x/eval_injection_2.dylib"})
	r.client.receive()
	r.client.send(protocol.Failed{Reason: "symbol not found: MyView"})

	result := await(t, outcome)
	var commandErr *CommandError
	if !errors.As(result.Err, &commandErr) {
		t.Fatal("expected command error, got:", result.Err)
	}
	if commandErr.Reason != "symbol not found: MyView" || commandErr.Command != protocol.CommandTagInject {
		t.Error("unexpected command error:", commandErr)
	}
	if result.Retried {
		t.Error("untranslatable command was retried")
	}
	if !IsCommandFailure(result.Err) {
		t.Error("command failure not identified")
	}

	// The session must remain usable.
	waitFor(t, "idle", func() bool { return r.session.State() == StateIdle })
	outcome = r.session.Submit(protocol.Log{Message: "still here"})
	if _, ok := r.client.receive().(protocol.Log); !ok {
		t.Fatal("expected log command")
	}
	r.client.send(protocol.Injected{})
	if result := await(t, outcome); result.Err != nil {
		t.Error("log failed:", result.Err)
	}
	if info := r.session.Info(); info.Failed != 1 || info.State == StateClosed {
		t.Error("unexpected session info after failure:", info.Failed, info.State)
	}
}

// TestFailureRetranslation tests that a failed injection is resent exactly
// once with a translated path.
func TestFailureRetranslation(t *testing.T) {
	r := connect(t, Configuration{LocalRoot: "/Users/server/App"})
	r.greet(t, "ios-simulator-x86_64", "/tmp/sim", "/Users/dev/App")

	// First attempt fails, translated retry succeeds.
	outcome := r.session.Submit(protocol.Inject{TypeName: "MyView", Path: "/Users/server/App/MyView.swift"})
	r.client.receive()
	r.client.send(protocol.Failed{Reason: "no such file"})
	retry, ok := r.client.receive().(protocol.Inject)
	if !ok {
		t.Fatal("expected inject retry")
	}
	if retry.Path != "/Users/dev/App/MyView.swift" || retry.TypeName != "MyView" {
		t.Error("unexpected retry:", retry)
	}
	r.client.send(protocol.Injected{})
	result := await(t, outcome)
	if result.Err != nil || !result.Retried {
		t.Error("unexpected retry outcome:", result.Err, result.Retried)
	}
	if inject, _ := result.Command.(protocol.Inject); inject.Path != retry.Path {
		t.Error("outcome does not carry translated command")
	}

	// Both attempts fail: no further retry.
	outcome = r.session.Submit(protocol.LoadDylib{Path: "/build/eval_injection_3.dylib"})
	r.client.receive()
	r.client.send(protocol.Failed{Reason: "no such file"})
	if load, ok := r.client.receive().(protocol.LoadDylib); !ok || load.Path != "/tmp/sim/eval_injection_3.dylib" {
		t.Fatal("unexpected load retry:", load)
	}
	r.client.send(protocol.Failed{Reason: "still no such file"})
	result = await(t, outcome)
	if !IsCommandFailure(result.Err) || !result.Retried {
		t.Error("unexpected outcome after retry failure:", result.Err, result.Retried)
	}
	if info := r.session.Info(); info.Sequence != 4 {
		t.Error("unexpected number of command frames:", info.Sequence)
	}
}

// TestNoPipelining tests that a session never has more than one command
// outstanding.
func TestNoPipelining(t *testing.T) {
	var lock sync.Mutex
	var transitions [][2]State
	observer := func(from, to State) {
		lock.Lock()
		transitions = append(transitions, [2]State{from, to})
		lock.Unlock()
	}
	r := connect(t, Configuration{Observer: observer})
	r.greet(t, "macos-arm64", "/tmp/x", "/Users/dev/App")

	// Queue several commands at once.
	var outcomes []<-chan Outcome
	for i := 0; i < 3; i++ {
		outcomes = append(outcomes, r.session.Submit(protocol.RequestXcodePath{}))
	}

	// Answer them one at a time, verifying that nothing else is sent while a
	// command is outstanding.
	for i := range outcomes {
		r.client.receive()
		time.Sleep(20 * time.Millisecond)
		if sequence := r.session.Info().Sequence; sequence != uint64(i+1) {
			t.Fatalf("command sent while another was outstanding: sequence %d", sequence)
		}
		r.client.send(protocol.Injected{Detail: "/Applications/Xcode.app"})
		if result := await(t, outcomes[i]); result.Err != nil || result.Detail != "/Applications/Xcode.app" {
			t.Error("unexpected outcome:", result.Err, result.Detail)
		}
	}

	// Verify the transition history.
	lock.Lock()
	defer lock.Unlock()
	var previous State
	for i, transition := range transitions {
		if i > 0 && transition[0] != previous {
			t.Error("transition history is discontinuous at", i)
		}
		if transition[1] == StateAwaitingResponse && transition[0] != StateIdle {
			t.Error("entered awaiting response from", transition[0])
		}
		previous = transition[1]
	}
	if len(transitions) < 2+2*len(outcomes) {
		t.Error("too few transitions recorded:", len(transitions))
	}
}

func TestUnsolicitedAcknowledgement(t *testing.T) {
	r := connect(t, Configuration{})
	r.client.send(protocol.Injected{})

	var violation *ProtocolViolationError
	if err := r.wait(t); !errors.As(err, &violation) {
		t.Fatal("expected protocol violation, got:", err)
	}
	if info := r.session.Info(); info.State != StateClosed || info.CloseReason != CloseReasonProtocolViolation {
		t.Error("unexpected state after violation:", info.State, info.CloseReason)
	}
}

func TestUnsolicitedFailure(t *testing.T) {
	r := connect(t, Configuration{})
	r.client.send(protocol.Failed{Reason: "nothing"})
	var violation *ProtocolViolationError
	if err := r.wait(t); !errors.As(err, &violation) {
		t.Fatal("expected protocol violation, got:", err)
	}
}

func TestHelloImmutability(t *testing.T) {
	r := connect(t, Configuration{})
	r.greet(t, "macos-arm64", "/tmp/x", "/Users/dev/App")

	// Identical repeats are ignored, even with a command outstanding.
	outcome := r.session.Submit(protocol.Log{Message: "hi"})
	r.client.receive()
	r.client.send(protocol.Platform{Identifier: "macos-arm64"})
	r.client.send(protocol.Unhide{})
	r.client.send(protocol.Injected{})
	if result := await(t, outcome); result.Err != nil {
		t.Fatal("command failed:", result.Err)
	}
	waitFor(t, "unhide", func() bool { return r.session.Info().Unhides == 1 })

	// A change is a violation.
	r.client.send(protocol.Platform{Identifier: "linux-x86_64"})
	var violation *ProtocolViolationError
	if err := r.wait(t); !errors.As(err, &violation) {
		t.Fatal("expected protocol violation, got:", err)
	}
	if platform := r.session.Platform(); platform != "macos-arm64" {
		t.Error("platform changed:", platform)
	}
}

func TestEmptyHelloValueImmutable(t *testing.T) {
	r := connect(t, Configuration{})

	// An empty report locks the value just like a non-empty one.
	r.client.send(protocol.Platform{})
	waitFor(t, "platform report", func() bool {
		r.session.stateLock.Lock()
		defer r.session.stateLock.Unlock()
		return r.session.platformReported
	})
	r.client.send(protocol.Platform{Identifier: "macos-arm64"})
	var violation *ProtocolViolationError
	if err := r.wait(t); !errors.As(err, &violation) {
		t.Fatal("expected protocol violation, got:", err)
	}
	if platform := r.session.Platform(); platform != "" {
		t.Error("platform changed:", platform)
	}
}

func TestWatchedDirectoriesImmutable(t *testing.T) {
	r := connect(t, Configuration{})
	r.client.send(protocol.ProjectRoot{Path: "/Users/dev/App", Directories: []string{"Sources"}})
	waitFor(t, "project root", func() bool { return r.session.Info().ProjectRoot != "" })

	// An identical repeat is ignored.
	r.client.send(protocol.ProjectRoot{Path: "/Users/dev/App", Directories: []string{"Sources"}})
	r.client.send(protocol.ProjectRoot{Path: "/Users/dev/App", Directories: []string{"Sources", "Tests"}})
	var violation *ProtocolViolationError
	if err := r.wait(t); !errors.As(err, &violation) {
		t.Fatal("expected protocol violation, got:", err)
	}
	if directories := r.session.Info().Directories; len(directories) != 1 {
		t.Error("watched directories changed:", directories)
	}
}

func TestUnrecognizedResponseIgnored(t *testing.T) {
	r := connect(t, Configuration{})
	r.client.send(protocol.UnrecognizedResponse{RawTag: 77, Payload: []byte{1, 2, 3}})

	outcome := r.session.Submit(protocol.Log{Message: "hi"})
	r.client.receive()
	r.client.send(protocol.Injected{})
	if result := await(t, outcome); result.Err != nil {
		t.Fatal("command failed after unrecognized response:", result.Err)
	}
	if state := r.session.State(); state == StateClosed {
		t.Error("session closed by unrecognized response")
	}
}

func TestCommandTimeout(t *testing.T) {
	r := connect(t, Configuration{CommandTimeout: 50 * time.Millisecond})
	outcome := r.session.Submit(protocol.LoadDylib{Path: "/tmp/eval_injection_1.dylib"})
	r.client.receive()

	var timeoutErr *TimeoutError
	if err := r.wait(t); !errors.As(err, &timeoutErr) {
		t.Fatal("expected timeout, got:", err)
	}
	if timeoutErr.Command != protocol.CommandTagLoadDylib {
		t.Error("timeout names wrong command:", timeoutErr.Command)
	}
	if result := await(t, outcome); !errors.As(result.Err, &timeoutErr) {
		t.Error("outstanding command not failed with timeout:", result.Err)
	}
	if reason := r.session.Info().CloseReason; reason != CloseReasonTimeout {
		t.Error("unexpected close reason:", reason)
	}
}

func TestClientExit(t *testing.T) {
	r := connect(t, Configuration{})
	r.client.send(protocol.Exit{})
	if err := r.wait(t); err != nil {
		t.Fatal("exit produced error:", err)
	}
	if reason := r.session.Info().CloseReason; reason != CloseReasonNormal {
		t.Error("unexpected close reason:", reason)
	}
	select {
	case <-r.session.Done():
	default:
		t.Error("done channel not closed")
	}
	if result := await(t, r.session.Submit(protocol.Log{})); !errors.Is(result.Err, ErrClosed) {
		t.Error("submission to closed session not refused:", result.Err)
	}
}

func TestClientDisconnect(t *testing.T) {
	r := connect(t, Configuration{})
	outcome := r.session.Submit(protocol.Log{Message: "hi"})
	r.client.receive()
	r.client.connection.Close()

	var transportErr *TransportError
	if err := r.wait(t); !errors.As(err, &transportErr) {
		t.Fatal("expected transport error, got:", err)
	}
	if result := await(t, outcome); result.Err == nil {
		t.Error("outstanding command succeeded after disconnect")
	}
}

func TestCloseSendsEOF(t *testing.T) {
	r := connect(t, Configuration{})
	received := make(chan protocol.Command, 1)
	go func() {
		command, _ := r.client.decoder.DecodeCommand()
		received <- command
	}()
	r.session.Close()
	if err := r.wait(t); err != nil {
		t.Error("close produced error:", err)
	}
	select {
	case command := <-received:
		if _, ok := command.(protocol.EOF); !ok {
			t.Error("expected EOF, got:", command)
		}
	case <-time.After(testTimeout):
		t.Fatal("EOF not received")
	}
	if reason := r.session.Info().CloseReason; reason != CloseReasonNormal {
		t.Error("unexpected close reason:", reason)
	}
}

func TestCloseBeforeRunSendsEOF(t *testing.T) {
	r := negotiate(t, Configuration{})
	received := make(chan protocol.Command, 1)
	go func() {
		command, _ := r.client.decoder.DecodeCommand()
		received <- command
	}()

	// Close the idle session before anything runs it.
	r.session.Close()
	select {
	case command := <-received:
		if _, ok := command.(protocol.EOF); !ok {
			t.Error("expected EOF, got:", command)
		}
	case <-time.After(testTimeout):
		t.Fatal("EOF not received")
	}

	// A late Run reports the normal close.
	r.start()
	if err := r.wait(t); err != nil {
		t.Error("late run produced error:", err)
	}
	if info := r.session.Info(); info.State != StateClosed || info.CloseReason != CloseReasonNormal {
		t.Error("unexpected state after close:", info.State, info.CloseReason)
	}
}

func TestSubmitEOFRefused(t *testing.T) {
	r := connect(t, Configuration{})
	if result := await(t, r.session.Submit(protocol.EOF{})); result.Err == nil {
		t.Error("EOF submission accepted")
	}
}

func TestNegotiationVersionMismatch(t *testing.T) {
	server, client := net.Pipe()
	session, err := New(server, Configuration{Key: testKey}, nil)
	if err != nil {
		t.Fatal("unable to create session:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	negotiated := make(chan error, 1)
	go func() {
		negotiated <- session.Negotiate(ctx)
	}()
	stale := handshake.Protocol{Name: "injection", Version: 3000, Minimum: 3000}
	if _, err := handshake.ClientHandshake(ctx, client, stale, testKey); !handshake.IsVersionMismatch(err) {
		t.Fatal("stale client accepted server:", err)
	}
	client.Close()

	if err := <-negotiated; !handshake.IsVersionMismatch(err) {
		t.Fatal("expected version mismatch, got:", err)
	}
	if info := session.Info(); info.State != StateClosed || info.CloseReason != CloseReasonVersionMismatch {
		t.Error("unexpected state after mismatch:", info.State, info.CloseReason)
	}
	if err := session.Run(context.Background()); err == nil {
		t.Error("closed session ran")
	}
}

func TestNegotiationUntrusted(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	session, err := New(server, Configuration{Key: testKey}, nil)
	if err != nil {
		t.Fatal("unable to create session:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	negotiated := make(chan error, 1)
	go func() {
		negotiated <- session.Negotiate(ctx)
	}()
	handshake.ClientHandshake(ctx, client, handshake.Injection, "wrong")

	err = <-negotiated
	if !handshake.IsUntrusted(err) {
		t.Fatal("expected untrusted error, got:", err)
	}
	if reason := session.Info().CloseReason; reason != CloseReasonTransportError {
		t.Error("unexpected close reason:", reason)
	}
}

func TestCloseBeforeNegotiation(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	session, err := New(server, Configuration{Key: testKey}, nil)
	if err != nil {
		t.Fatal("unable to create session:", err)
	}
	queued := session.Submit(protocol.Log{Message: "never sent"})
	session.Close()
	session.Close()
	if err := session.Negotiate(context.Background()); err != ErrClosed {
		t.Error("closed session negotiated:", err)
	}
	if result := await(t, queued); !errors.Is(result.Err, ErrClosed) {
		t.Error("queued command not failed:", result.Err)
	}
}
