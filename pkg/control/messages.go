package control

import (
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/identifier"
	"github.com/hotswap-io/hotswap/pkg/protocol"
	"github.com/hotswap-io/hotswap/pkg/session"
)

const (
	// tagPush identifies a push request.
	tagPush int32 = 0
	// tagList identifies a list request.
	tagList int32 = 1

	// tagReport identifies a push report.
	tagReport int32 = 0
	// tagListing identifies a session listing.
	tagListing int32 = 1
	// tagError identifies an error reply.
	tagError int32 = 2

	// maximumPayloadSize is the maximum control frame payload size.
	maximumPayloadSize = 16 * 1024 * 1024
)

// Push asks the server to deliver a module to every session matching a
// platform selector. If TypeName is set, the module is injected for that type,
// otherwise it's loaded.
type Push struct {
	// Selector is the platform selector. Empty matches every session.
	Selector string
	// Path is the module path.
	Path string
	// TypeName is the type to inject, if any.
	TypeName string
	// Send indicates that the module contents in Data should be sent to each
	// session's temporary directory and loaded from there, for clients that
	// can't see the server's filesystem.
	Send bool
	// Data is the module contents when Send is set.
	Data []byte
}

// command returns the injection command for a module at the specified path.
func (p *Push) command(path string) protocol.Command {
	if p.TypeName != "" {
		return protocol.Inject{TypeName: p.TypeName, Path: path}
	}
	return protocol.LoadDylib{Path: path}
}

// commands returns the command sequence for a session.
func (p *Push) commands(info *session.Info) ([]protocol.Command, error) {
	if !p.Send {
		return []protocol.Command{p.command(p.Path)}, nil
	} else if info.TmpPath == "" {
		return nil, errors.New("session has not reported a temporary directory")
	}
	name := path.Base(filepath.ToSlash(p.Path))
	return []protocol.Command{
		protocol.SendFile{Name: name, Data: p.Data},
		p.command(path.Join(info.TmpPath, name)),
	}, nil
}

// Result is the outcome of a push for one session.
type Result struct {
	// Session is the session identifier.
	Session string
	// Platform is the session's platform.
	Platform string
	// Detail is the client's acknowledgement detail, if any.
	Detail string
	// Error is the failure message, or empty on success.
	Error string
}

// Report is the reply to a push.
type Report struct {
	// Results are the per-session outcomes.
	Results []Result
}

// Failures returns the number of failed results.
func (r *Report) Failures() int {
	var failures int
	for _, result := range r.Results {
		if result.Error != "" {
			failures++
		}
	}
	return failures
}

// SessionInfo describes a session in a listing.
type SessionInfo struct {
	// Identifier is the session identifier.
	Identifier string
	// Address is the client's transport address.
	Address string
	// Platform is the client's platform.
	Platform string
	// TmpPath is the client's temporary directory.
	TmpPath string
	// ProjectRoot is the client's project root.
	ProjectRoot string
	// ToolchainPath is the client's reported toolchain path.
	ToolchainPath string
	// State is the session state name.
	State string
	// CloseReason is the close reason name, if closed.
	CloseReason string
	// Version is the negotiated protocol version.
	Version int32
	// Sequence is the number of command frames sent.
	Sequence uint64
	// Acknowledged is the number of acknowledged commands.
	Acknowledged uint64
	// Failed is the number of failed commands.
	Failed uint64
	// ConnectedAt is the connection time.
	ConnectedAt time.Time
}

// newSessionInfo converts a session snapshot.
func newSessionInfo(info *session.Info) SessionInfo {
	result := SessionInfo{
		Identifier:    info.Identifier,
		Address:       info.RemoteAddress,
		Platform:      info.Platform,
		TmpPath:       info.TmpPath,
		ProjectRoot:   info.ProjectRoot,
		ToolchainPath: info.ToolchainPath,
		State:         info.State.String(),
		Version:       info.Version,
		Sequence:      info.Sequence,
		Acknowledged:  info.Acknowledged,
		Failed:        info.Failed,
		ConnectedAt:   info.ConnectedAt,
	}
	if info.State == session.StateClosed {
		result.CloseReason = info.CloseReason.String()
	}
	return result
}

// Listing is the reply to a list request.
type Listing struct {
	// Index is the registry state index of the listing.
	Index uint64
	// Sessions are the listed sessions.
	Sessions []SessionInfo
}

// appendPush encodes a push request payload.
func appendPush(dst []byte, push *Push) []byte {
	dst = protocol.AppendString(dst, push.Selector)
	dst = protocol.AppendString(dst, push.Path)
	dst = protocol.AppendString(dst, push.TypeName)
	if push.Send {
		dst = protocol.AppendUint32(dst, 1)
		dst = protocol.AppendBytes(dst, push.Data)
	}
	return dst
}

// parsePush decodes a push request payload.
func parsePush(payload []byte) (*Push, error) {
	reader := protocol.NewPayloadReader(payload)
	push := &Push{}
	var err error
	if push.Selector, err = reader.String(); err != nil {
		return nil, errors.Wrap(err, "unable to decode selector")
	} else if push.Path, err = reader.String(); err != nil {
		return nil, errors.Wrap(err, "unable to decode path")
	} else if push.TypeName, err = reader.String(); err != nil {
		return nil, errors.Wrap(err, "unable to decode type name")
	}

	// Decode the optional module contents.
	if reader.Remaining() > 0 {
		if send, err := reader.Uint32(); err != nil {
			return nil, errors.Wrap(err, "unable to decode send flag")
		} else if send != 1 {
			return nil, errors.Errorf("invalid send flag (%d)", send)
		}
		push.Send = true
		if push.Data, err = reader.Bytes(); err != nil {
			return nil, errors.Wrap(err, "unable to decode module contents")
		}
	}
	return push, nil
}

// appendReport encodes a report payload.
func appendReport(dst []byte, report *Report) []byte {
	dst = protocol.AppendUint32(dst, uint32(len(report.Results)))
	for _, result := range report.Results {
		dst = protocol.AppendString(dst, result.Session)
		dst = protocol.AppendString(dst, result.Platform)
		dst = protocol.AppendString(dst, result.Detail)
		dst = protocol.AppendString(dst, result.Error)
	}
	return dst
}

// readCount reads a record count, bounding it by the remaining payload given
// a minimum encoded record size.
func readCount(reader *protocol.PayloadReader, minimumRecordSize int) (int, error) {
	count, err := reader.Uint32()
	if err != nil {
		return 0, err
	} else if uint64(count)*uint64(minimumRecordSize) > uint64(reader.Remaining()) {
		return 0, errors.Errorf("record count (%d) exceeds payload", count)
	}
	return int(count), nil
}

// parseReport decodes a report payload.
func parseReport(payload []byte) (*Report, error) {
	reader := protocol.NewPayloadReader(payload)
	count, err := readCount(reader, 16)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode result count")
	}
	report := &Report{Results: make([]Result, count)}
	for i := range report.Results {
		result := &report.Results[i]
		if result.Session, err = reader.String(); err != nil {
			return nil, errors.Wrap(err, "unable to decode session")
		} else if !identifier.IsValid(result.Session) {
			return nil, errors.Errorf("invalid session identifier (%q)", result.Session)
		} else if result.Platform, err = reader.String(); err != nil {
			return nil, errors.Wrap(err, "unable to decode platform")
		} else if result.Detail, err = reader.String(); err != nil {
			return nil, errors.Wrap(err, "unable to decode detail")
		} else if result.Error, err = reader.String(); err != nil {
			return nil, errors.Wrap(err, "unable to decode error")
		}
	}
	return report, nil
}

// appendListing encodes a listing payload.
func appendListing(dst []byte, listing *Listing) []byte {
	dst = protocol.AppendUint64(dst, listing.Index)
	dst = protocol.AppendUint32(dst, uint32(len(listing.Sessions)))
	for _, info := range listing.Sessions {
		dst = protocol.AppendList(dst, []string{
			info.Identifier,
			info.Address,
			info.Platform,
			info.TmpPath,
			info.ProjectRoot,
			info.ToolchainPath,
			info.State,
			info.CloseReason,
		})
		dst = protocol.AppendUint32(dst, uint32(info.Version))
		dst = protocol.AppendUint64(dst, info.Sequence)
		dst = protocol.AppendUint64(dst, info.Acknowledged)
		dst = protocol.AppendUint64(dst, info.Failed)
		dst = protocol.AppendUint64(dst, uint64(info.ConnectedAt.UnixNano()))
	}
	return dst
}

// parseListing decodes a listing payload.
func parseListing(payload []byte) (*Listing, error) {
	reader := protocol.NewPayloadReader(payload)
	listing := &Listing{}
	var err error
	if listing.Index, err = reader.Uint64(); err != nil {
		return nil, errors.Wrap(err, "unable to decode index")
	}
	count, err := readCount(reader, 40)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode session count")
	}
	listing.Sessions = make([]SessionInfo, count)
	for i := range listing.Sessions {
		info := &listing.Sessions[i]
		fields, err := reader.List()
		if err != nil {
			return nil, errors.Wrap(err, "unable to decode session fields")
		} else if len(fields) != 8 {
			return nil, errors.Errorf("unexpected session field count (%d)", len(fields))
		}
		if !identifier.IsValid(fields[0]) {
			return nil, errors.Errorf("invalid session identifier (%q)", fields[0])
		}
		info.Identifier = fields[0]
		info.Address = fields[1]
		info.Platform = fields[2]
		info.TmpPath = fields[3]
		info.ProjectRoot = fields[4]
		info.ToolchainPath = fields[5]
		info.State = fields[6]
		info.CloseReason = fields[7]
		version, err := reader.Uint32()
		if err != nil {
			return nil, errors.Wrap(err, "unable to decode version")
		}
		info.Version = int32(version)
		if info.Sequence, err = reader.Uint64(); err != nil {
			return nil, errors.Wrap(err, "unable to decode sequence")
		} else if info.Acknowledged, err = reader.Uint64(); err != nil {
			return nil, errors.Wrap(err, "unable to decode acknowledged count")
		} else if info.Failed, err = reader.Uint64(); err != nil {
			return nil, errors.Wrap(err, "unable to decode failed count")
		}
		connectedAt, err := reader.Uint64()
		if err != nil {
			return nil, errors.Wrap(err, "unable to decode connection time")
		}
		info.ConnectedAt = time.Unix(0, int64(connectedAt))
	}
	return listing, nil
}
