package protocol

import (
	"fmt"
)

// CommandTag is the wire tag of a command.
type CommandTag int32

const (
	// CommandTagLog identifies Log.
	CommandTagLog CommandTag = iota
	// CommandTagLoadDylib identifies LoadDylib.
	CommandTagLoadDylib
	// CommandTagInject identifies Inject.
	CommandTagInject
	// CommandTagRequestXcodePath identifies RequestXcodePath.
	CommandTagRequestXcodePath
	// CommandTagSendFile identifies SendFile.
	CommandTagSendFile

	// CommandTagInvalid is the reserved tag that no receiver recognizes. It is
	// never produced by decoding a known command.
	CommandTagInvalid CommandTag = 1000
	// CommandTagEOF identifies EOF.
	CommandTagEOF CommandTag = -1
)

// String returns a human-readable name for the tag.
func (t CommandTag) String() string {
	switch t {
	case CommandTagLog:
		return "Log"
	case CommandTagLoadDylib:
		return "LoadDylib"
	case CommandTagInject:
		return "Inject"
	case CommandTagRequestXcodePath:
		return "RequestXcodePath"
	case CommandTagSendFile:
		return "SendFile"
	case CommandTagInvalid:
		return "Invalid"
	case CommandTagEOF:
		return "EOF"
	default:
		return fmt.Sprintf("Command(%d)", int32(t))
	}
}

// Command is a value sent from a server to an agent. The set of
// implementations is closed; use a type switch to dispatch.
type Command interface {
	// Tag returns the command's wire tag.
	Tag() CommandTag
	// appendPayload appends the command's payload fields.
	appendPayload(dst []byte) []byte
}

// Log asks the agent to display a message to the developer.
type Log struct {
	Message string
}

// LoadDylib asks the agent to load the dynamic module at a path in its own
// filesystem view.
type LoadDylib struct {
	Path string
}

// Inject asks the agent to swap in the implementation of a named type from
// the module at a path.
type Inject struct {
	TypeName string
	Path     string
}

// RequestXcodePath asks the agent to report its toolchain path.
type RequestXcodePath struct{}

// SendFile asks the agent to write a file into its scratch directory. Name is
// a base name; agents never honour directory components.
type SendFile struct {
	Name string
	Data []byte
}

// EOF indicates that no more commands will be sent and that the agent should
// close the session gracefully.
type EOF struct{}

// UnrecognizedCommand carries a command whose tag the receiver does not know
// (or that the negotiated epoch does not include). The payload is retained so
// that the value re-encodes to the same bytes.
type UnrecognizedCommand struct {
	RawTag  int32
	Payload []byte
}

// Tag implements Command.Tag.
func (Log) Tag() CommandTag { return CommandTagLog }

// Tag implements Command.Tag.
func (LoadDylib) Tag() CommandTag { return CommandTagLoadDylib }

// Tag implements Command.Tag.
func (Inject) Tag() CommandTag { return CommandTagInject }

// Tag implements Command.Tag.
func (RequestXcodePath) Tag() CommandTag { return CommandTagRequestXcodePath }

// Tag implements Command.Tag.
func (SendFile) Tag() CommandTag { return CommandTagSendFile }

// Tag implements Command.Tag.
func (EOF) Tag() CommandTag { return CommandTagEOF }

// Tag implements Command.Tag.
func (c UnrecognizedCommand) Tag() CommandTag { return CommandTag(c.RawTag) }

func (c Log) appendPayload(dst []byte) []byte {
	return AppendString(dst, c.Message)
}

func (c LoadDylib) appendPayload(dst []byte) []byte {
	return AppendString(dst, c.Path)
}

func (c Inject) appendPayload(dst []byte) []byte {
	dst = AppendString(dst, c.TypeName)
	return AppendString(dst, c.Path)
}

func (RequestXcodePath) appendPayload(dst []byte) []byte {
	return dst
}

func (c SendFile) appendPayload(dst []byte) []byte {
	dst = AppendString(dst, c.Name)
	return AppendBytes(dst, c.Data)
}

func (EOF) appendPayload(dst []byte) []byte {
	return dst
}

func (c UnrecognizedCommand) appendPayload(dst []byte) []byte {
	return append(dst, c.Payload...)
}

// AppendCommand appends the frame encoding of a command to dst.
func AppendCommand(dst []byte, command Command) []byte {
	payload := command.appendPayload(nil)
	return AppendFrame(dst, int32(command.Tag()), payload)
}

// parseCommand decodes a command payload. The supported callback decides which
// tags are parsed; anything else becomes an UnrecognizedCommand.
func parseCommand(rawTag int32, payload []byte, supported func(CommandTag) bool) (Command, error) {
	tag := CommandTag(rawTag)
	if !supported(tag) {
		return unrecognizedCommand(rawTag, payload), nil
	}
	reader := NewPayloadReader(payload)
	var err error
	var command Command
	switch tag {
	case CommandTagLog:
		var c Log
		c.Message, err = reader.String()
		command = c
	case CommandTagLoadDylib:
		var c LoadDylib
		c.Path, err = reader.String()
		command = c
	case CommandTagInject:
		var c Inject
		if c.TypeName, err = reader.String(); err == nil {
			c.Path, err = reader.String()
		}
		command = c
	case CommandTagRequestXcodePath:
		command = RequestXcodePath{}
	case CommandTagSendFile:
		var c SendFile
		if c.Name, err = reader.String(); err == nil {
			c.Data, err = reader.Bytes()
		}
		command = c
	case CommandTagEOF:
		command = EOF{}
	default:
		return unrecognizedCommand(rawTag, payload), nil
	}
	if err != nil {
		return nil, &MalformedError{Tag: rawTag, Reason: err.Error()}
	}
	return command, nil
}

// unrecognizedCommand creates an UnrecognizedCommand with a copy of payload.
func unrecognizedCommand(rawTag int32, payload []byte) UnrecognizedCommand {
	var retained []byte
	if len(payload) > 0 {
		retained = make([]byte, len(payload))
		copy(retained, payload)
	}
	return UnrecognizedCommand{RawTag: rawTag, Payload: retained}
}

// knownCommand reports whether a tag names a command variant in any epoch.
func knownCommand(tag CommandTag) bool {
	switch tag {
	case CommandTagLog, CommandTagLoadDylib, CommandTagInject,
		CommandTagRequestXcodePath, CommandTagSendFile, CommandTagEOF:
		return true
	default:
		return false
	}
}

// DecodeCommand decodes a single command frame from the beginning of data,
// returning the command and the number of bytes consumed. It returns
// ErrIncomplete when data holds only part of a frame and a MalformedError when
// the frame can never be decoded. An unknown tag is not an error: it yields an
// UnrecognizedCommand so that the caller stays in sync with the stream.
func DecodeCommand(data []byte, maximum uint32) (Command, int, error) {
	rawTag, payload, n, err := ParseFrame(data, maximum)
	if err != nil {
		return nil, 0, err
	}
	command, err := parseCommand(rawTag, payload, knownCommand)
	if err != nil {
		return nil, 0, err
	}
	return command, n, nil
}
