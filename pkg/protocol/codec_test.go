package protocol

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

// testMaximumPayloadSize is the maximum payload size used for boundary tests.
const testMaximumPayloadSize = 64 * 1024

// maximumString returns a string that, when it is the only field of a payload,
// fills the payload exactly to testMaximumPayloadSize.
func maximumString() string {
	return strings.Repeat("x", testMaximumPayloadSize-4)
}

// TestCommandRoundTrip tests that every command variant survives encoding and
// decoding.
func TestCommandRoundTrip(t *testing.T) {
	testCases := []Command{
		Log{},
		Log{Message: "🔥 recompiling"},
		Log{Message: maximumString()},
		LoadDylib{Path: "/tmp/x/eval_injection_1.dylib"},
		LoadDylib{},
		Inject{TypeName: "MyView", Path: "/tmp/x/eval_injection_2.dylib"},
		Inject{},
		RequestXcodePath{},
		SendFile{Name: "eval_injection_3.dylib", Data: []byte{0, 1, 2, '\n', 0xff}},
		SendFile{Name: "empty"},
		EOF{},
		UnrecognizedCommand{RawTag: 1000},
		UnrecognizedCommand{RawTag: 77, Payload: []byte("future")},
	}
	for _, command := range testCases {
		encoded := AppendCommand(nil, command)
		decoded, n, err := DecodeCommand(encoded, testMaximumPayloadSize)
		if err != nil {
			t.Errorf("unable to decode %s: %v", command.Tag(), err)
			continue
		}
		if n != len(encoded) {
			t.Errorf("%s consumed %d of %d bytes", command.Tag(), n, len(encoded))
		}
		if !reflect.DeepEqual(decoded, command) {
			t.Errorf("%s did not round trip", command.Tag())
		}
	}
}

// TestResponseRoundTrip tests that every response variant survives encoding
// and decoding.
func TestResponseRoundTrip(t *testing.T) {
	testCases := []Response{
		Platform{Identifier: "macos-arm64"},
		Platform{},
		Injected{},
		Injected{Detail: "/Applications/Xcode.app"},
		Failed{Reason: "symbol not found: MyView"},
		Failed{Reason: maximumString()},
		TmpPath{Path: "/tmp/x"},
		Unhide{},
		ProjectRoot{Path: "/Users/dev/App"},
		ProjectRoot{Path: "/Users/dev/App", Directories: []string{"/Users/dev/App/Sources", ""}},
		Exit{},
		UnrecognizedResponse{RawTag: 42, Payload: []byte{9}},
	}
	for _, response := range testCases {
		encoded := AppendResponse(nil, response)
		decoded, n, err := DecodeResponse(encoded, testMaximumPayloadSize)
		if err != nil {
			t.Errorf("unable to decode %s: %v", response.Tag(), err)
			continue
		}
		if n != len(encoded) {
			t.Errorf("%s consumed %d of %d bytes", response.Tag(), n, len(encoded))
		}
		if !reflect.DeepEqual(decoded, response) {
			t.Errorf("%s did not round trip", response.Tag())
		}
	}
}

// TestInvalidCommandTag tests that the reserved Invalid tag decodes to a
// structured unrecognized outcome rather than an error, and that the decoder
// remains in sync for the following frame.
func TestInvalidCommandTag(t *testing.T) {
	encoded := AppendFrame(nil, int32(CommandTagInvalid), []byte("opaque"))
	encoded = AppendCommand(encoded, Log{Message: "after"})

	first, n, err := DecodeCommand(encoded, testMaximumPayloadSize)
	if err != nil {
		t.Fatal("invalid tag produced error:", err)
	}
	unrecognized, ok := first.(UnrecognizedCommand)
	if !ok {
		t.Fatalf("invalid tag decoded as %T", first)
	}
	if unrecognized.Tag() != CommandTagInvalid || string(unrecognized.Payload) != "opaque" {
		t.Error("unrecognized command has incorrect contents")
	}

	second, _, err := DecodeCommand(encoded[n:], testMaximumPayloadSize)
	if err != nil {
		t.Fatal("unable to decode frame following invalid tag:", err)
	}
	if !reflect.DeepEqual(second, Log{Message: "after"}) {
		t.Error("decoder lost sync after invalid tag")
	}
}

// TestIncompleteFrames tests that every proper prefix of a frame reports
// ErrIncomplete rather than a malformed frame.
func TestIncompleteFrames(t *testing.T) {
	encoded := AppendCommand(nil, Inject{TypeName: "MyView", Path: "/tmp/x/a.dylib"})
	for i := 0; i < len(encoded); i++ {
		if _, _, err := DecodeCommand(encoded[:i], testMaximumPayloadSize); err != ErrIncomplete {
			t.Fatalf("prefix of length %d produced %v", i, err)
		}
	}
}

// TestMalformedFrames tests conditions that can never decode successfully.
func TestMalformedFrames(t *testing.T) {
	// Declared length above the maximum.
	oversized := AppendFrame(nil, int32(CommandTagLog), make([]byte, 16))
	if _, _, err := DecodeCommand(oversized, 8); !IsMalformed(err) {
		t.Error("oversized payload not reported as malformed:", err)
	}

	// A string field that claims more bytes than its frame holds.
	payload := AppendUint32(nil, 100)
	payload = append(payload, "short"...)
	overrun := AppendFrame(nil, int32(CommandTagLoadDylib), payload)
	if _, _, err := DecodeCommand(overrun, testMaximumPayloadSize); !IsMalformed(err) {
		t.Error("field overrun not reported as malformed:", err)
	}

	// A list whose count cannot possibly fit.
	payload = AppendString(nil, "/root")
	payload = AppendUint32(payload, 1<<30)
	list := AppendFrame(nil, int32(ResponseTagProjectRoot), payload)
	if _, _, err := DecodeResponse(list, testMaximumPayloadSize); !IsMalformed(err) {
		t.Error("oversized list not reported as malformed:", err)
	}
}

// TestTrailingPayloadIgnored tests that decoders ignore fields appended by
// later protocol revisions.
func TestTrailingPayloadIgnored(t *testing.T) {
	payload := AppendString(nil, "ios-simulator-x86_64")
	payload = AppendString(payload, "future field")
	encoded := AppendFrame(nil, int32(ResponseTagPlatform), payload)
	decoded, _, err := DecodeResponse(encoded, testMaximumPayloadSize)
	if err != nil {
		t.Fatal("unable to decode response with trailing payload:", err)
	}
	if !reflect.DeepEqual(decoded, Platform{Identifier: "ios-simulator-x86_64"}) {
		t.Error("response with trailing payload decoded incorrectly")
	}
}

// TestLegacyEmptyCompletions tests that completions from agents that send no
// payload still decode.
func TestLegacyEmptyCompletions(t *testing.T) {
	for _, tag := range []ResponseTag{ResponseTagInjected, ResponseTagFailed} {
		encoded := AppendFrame(nil, int32(tag), nil)
		decoded, _, err := DecodeResponse(encoded, testMaximumPayloadSize)
		if err != nil {
			t.Errorf("unable to decode empty %s: %v", tag, err)
		} else if decoded.Tag() != tag {
			t.Errorf("empty %s decoded as %s", tag, decoded.Tag())
		}
	}
}

// TestFrameLayout tests the exact byte layout of a frame.
func TestFrameLayout(t *testing.T) {
	encoded := AppendCommand(nil, EOF{})
	expected := []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}
	if !bytes.Equal(encoded, expected) {
		t.Errorf("EOF encoded as %x", encoded)
	}
	encoded = AppendResponse(nil, TmpPath{Path: "/t"})
	expected = []byte{0, 0, 0, 3, 0, 0, 0, 6, 0, 0, 0, 2, '/', 't'}
	if !bytes.Equal(encoded, expected) {
		t.Errorf("TmpPath encoded as %x", encoded)
	}
}
