package protocol

import (
	"fmt"
)

// ResponseTag is the wire tag of a response.
type ResponseTag int32

const (
	// ResponseTagPlatform identifies Platform.
	ResponseTagPlatform ResponseTag = iota
	// ResponseTagInjected identifies Injected.
	ResponseTagInjected
	// ResponseTagFailed identifies Failed.
	ResponseTagFailed
	// ResponseTagTmpPath identifies TmpPath.
	ResponseTagTmpPath
	// ResponseTagUnhide identifies Unhide.
	ResponseTagUnhide
	// ResponseTagProjectRoot identifies ProjectRoot.
	ResponseTagProjectRoot

	// ResponseTagExit identifies Exit.
	ResponseTagExit ResponseTag = -1
)

// String returns a human-readable name for the tag.
func (t ResponseTag) String() string {
	switch t {
	case ResponseTagPlatform:
		return "Platform"
	case ResponseTagInjected:
		return "Injected"
	case ResponseTagFailed:
		return "Failed"
	case ResponseTagTmpPath:
		return "TmpPath"
	case ResponseTagUnhide:
		return "Unhide"
	case ResponseTagProjectRoot:
		return "ProjectRoot"
	case ResponseTagExit:
		return "Exit"
	default:
		return fmt.Sprintf("Response(%d)", int32(t))
	}
}

// Response is a value sent from an agent to a server. The set of
// implementations is closed; use a type switch to dispatch.
type Response interface {
	// Tag returns the response's wire tag.
	Tag() ResponseTag
	// appendPayload appends the response's payload fields.
	appendPayload(dst []byte) []byte
}

// Platform reports the OS/architecture identifier of the agent, such as
// "macos-arm64" or "ios-simulator-x86_64".
type Platform struct {
	Identifier string
}

// Injected acknowledges successful completion of the outstanding command.
// Detail optionally carries a result, such as a toolchain path.
type Injected struct {
	Detail string
}

// Failed reports that the outstanding command could not be executed.
type Failed struct {
	Reason string
}

// TmpPath reports a writable scratch directory inside the agent's sandbox.
type TmpPath struct {
	Path string
}

// Unhide asks the developer-side tool to make a previously hidden surface
// visible again.
type Unhide struct{}

// ProjectRoot reports the source root known to the agent, along with any
// source directories it was configured to watch.
type ProjectRoot struct {
	Path        string
	Directories []string
}

// Exit ends the session from the agent's side.
type Exit struct{}

// UnrecognizedResponse carries a response whose tag the receiver does not know
// (or that the negotiated epoch does not include).
type UnrecognizedResponse struct {
	RawTag  int32
	Payload []byte
}

// Tag implements Response.Tag.
func (Platform) Tag() ResponseTag { return ResponseTagPlatform }

// Tag implements Response.Tag.
func (Injected) Tag() ResponseTag { return ResponseTagInjected }

// Tag implements Response.Tag.
func (Failed) Tag() ResponseTag { return ResponseTagFailed }

// Tag implements Response.Tag.
func (TmpPath) Tag() ResponseTag { return ResponseTagTmpPath }

// Tag implements Response.Tag.
func (Unhide) Tag() ResponseTag { return ResponseTagUnhide }

// Tag implements Response.Tag.
func (ProjectRoot) Tag() ResponseTag { return ResponseTagProjectRoot }

// Tag implements Response.Tag.
func (Exit) Tag() ResponseTag { return ResponseTagExit }

// Tag implements Response.Tag.
func (r UnrecognizedResponse) Tag() ResponseTag { return ResponseTag(r.RawTag) }

func (r Platform) appendPayload(dst []byte) []byte {
	return AppendString(dst, r.Identifier)
}

func (r Injected) appendPayload(dst []byte) []byte {
	return AppendString(dst, r.Detail)
}

func (r Failed) appendPayload(dst []byte) []byte {
	return AppendString(dst, r.Reason)
}

func (r TmpPath) appendPayload(dst []byte) []byte {
	return AppendString(dst, r.Path)
}

func (Unhide) appendPayload(dst []byte) []byte {
	return dst
}

func (r ProjectRoot) appendPayload(dst []byte) []byte {
	dst = AppendString(dst, r.Path)
	return AppendList(dst, r.Directories)
}

func (Exit) appendPayload(dst []byte) []byte {
	return dst
}

func (r UnrecognizedResponse) appendPayload(dst []byte) []byte {
	return append(dst, r.Payload...)
}

// AppendResponse appends the frame encoding of a response to dst.
func AppendResponse(dst []byte, response Response) []byte {
	payload := response.appendPayload(nil)
	return AppendFrame(dst, int32(response.Tag()), payload)
}

// parseResponse decodes a response payload. The supported callback decides
// which tags are parsed; anything else becomes an UnrecognizedResponse.
func parseResponse(rawTag int32, payload []byte, supported func(ResponseTag) bool) (Response, error) {
	tag := ResponseTag(rawTag)
	if !supported(tag) {
		return unrecognizedResponse(rawTag, payload), nil
	}
	reader := NewPayloadReader(payload)
	var err error
	var response Response
	switch tag {
	case ResponseTagPlatform:
		var r Platform
		r.Identifier, err = reader.String()
		response = r
	case ResponseTagInjected:
		// Older agents send Injected with an empty payload.
		var r Injected
		if reader.Remaining() > 0 {
			r.Detail, err = reader.String()
		}
		response = r
	case ResponseTagFailed:
		// Older agents send Failed with an empty payload.
		var r Failed
		if reader.Remaining() > 0 {
			r.Reason, err = reader.String()
		}
		response = r
	case ResponseTagTmpPath:
		var r TmpPath
		r.Path, err = reader.String()
		response = r
	case ResponseTagUnhide:
		response = Unhide{}
	case ResponseTagProjectRoot:
		var r ProjectRoot
		if r.Path, err = reader.String(); err == nil && reader.Remaining() > 0 {
			r.Directories, err = reader.List()
		}
		response = r
	case ResponseTagExit:
		response = Exit{}
	default:
		return unrecognizedResponse(rawTag, payload), nil
	}
	if err != nil {
		return nil, &MalformedError{Tag: rawTag, Reason: err.Error()}
	}
	return response, nil
}

// unrecognizedResponse creates an UnrecognizedResponse with a copy of payload.
func unrecognizedResponse(rawTag int32, payload []byte) UnrecognizedResponse {
	var retained []byte
	if len(payload) > 0 {
		retained = make([]byte, len(payload))
		copy(retained, payload)
	}
	return UnrecognizedResponse{RawTag: rawTag, Payload: retained}
}

// knownResponse reports whether a tag names a response variant in any epoch.
func knownResponse(tag ResponseTag) bool {
	switch tag {
	case ResponseTagPlatform, ResponseTagInjected, ResponseTagFailed,
		ResponseTagTmpPath, ResponseTagUnhide, ResponseTagProjectRoot,
		ResponseTagExit:
		return true
	default:
		return false
	}
}

// DecodeResponse decodes a single response frame from the beginning of data,
// returning the response and the number of bytes consumed. Its error semantics
// match DecodeCommand.
func DecodeResponse(data []byte, maximum uint32) (Response, int, error) {
	rawTag, payload, n, err := ParseFrame(data, maximum)
	if err != nil {
		return nil, 0, err
	}
	response, err := parseResponse(rawTag, payload, knownResponse)
	if err != nil {
		return nil, 0, err
	}
	return response, n, nil
}
