package session

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/hotswap-io/hotswap/pkg/hotswap"
	"github.com/hotswap-io/hotswap/pkg/protocol"
)

// Translator maps server-side paths into a client's filesystem view, using
// what the client reported in its hello burst. Client paths are always
// slash-separated.
type Translator struct {
	// LocalRoot is the server-side project root. It may be empty.
	LocalRoot string
	// ProjectRoot is the client-reported project root.
	ProjectRoot string
	// TmpPath is the client-reported temporary directory.
	TmpPath string
}

// Translate translates a path. Injection modules are relocated into TmpPath
// and other paths beneath LocalRoot are rebased onto ProjectRoot. The result is
// always NFC-normalized, since clients on some platforms report decomposed
// paths. If no rule applies, the normalized path is returned.
func (t Translator) Translate(value string) string {
	value = norm.NFC.String(value)
	if t.TmpPath != "" {
		base := path.Base(value)
		if strings.HasPrefix(base, hotswap.DylibPrefix) {
			return path.Join(norm.NFC.String(t.TmpPath), base)
		}
	}
	local := norm.NFC.String(strings.TrimSuffix(t.LocalRoot, "/"))
	remote := norm.NFC.String(t.ProjectRoot)
	if local != "" && remote != "" {
		if value == local {
			return remote
		} else if strings.HasPrefix(value, local+"/") {
			return path.Join(remote, value[len(local)+1:])
		}
	}
	return value
}

// retranslate computes the single retry for a failed command. It returns
// false if the command isn't eligible for translation or if translation
// doesn't change it.
func (t Translator) retranslate(command protocol.Command) (protocol.Command, bool) {
	switch c := command.(type) {
	case protocol.LoadDylib:
		if translated := t.Translate(c.Path); translated != c.Path {
			return protocol.LoadDylib{Path: translated}, true
		}
	case protocol.Inject:
		if translated := t.Translate(c.Path); translated != c.Path {
			return protocol.Inject{TypeName: c.TypeName, Path: translated}, true
		}
	}
	return nil, false
}
