package identifier

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/encoding"
	"github.com/hotswap-io/hotswap/pkg/random"
)

const (
	// PrefixSession is the prefix used for injection session identifiers.
	PrefixSession = "sess"
	// PrefixServer is the prefix used for server instance identifiers.
	PrefixServer = "srvr"

	// requiredPrefixLength is the required length for identifier prefixes.
	requiredPrefixLength = 4
	// collisionResistantLength is the number of random bytes needed to ensure
	// collision-resistance in an identifier.
	collisionResistantLength = 32
	// targetBase62Length is the target length for the Base62-encoded portion
	// of the identifier. Encodings shorter than this are left-padded.
	targetBase62Length = 43
)

// New generates a new collision-resistant identifier with the specified prefix.
// The prefix must be exactly four lowercase ASCII letters.
func New(prefix string) (string, error) {
	// Validate the prefix.
	if len(prefix) != requiredPrefixLength {
		return "", errors.New("incorrect prefix length")
	}
	for _, r := range prefix {
		if r < 'a' || r > 'z' {
			return "", errors.New("invalid prefix character")
		}
	}

	// Create the random value.
	value, err := random.New(collisionResistantLength)
	if err != nil {
		return "", errors.Wrap(err, "unable to generate random data")
	}

	// Encode the random value and left-pad it to the target length.
	encoded := encoding.EncodeBase62(value)
	builder := &strings.Builder{}
	builder.Grow(requiredPrefixLength + 1 + targetBase62Length)
	builder.WriteString(prefix)
	builder.WriteByte('_')
	for i := targetBase62Length - len(encoded); i > 0; i-- {
		builder.WriteByte(encoding.Base62Alphabet[0])
	}
	builder.WriteString(encoded)

	// Done.
	return builder.String(), nil
}

// IsValid determines whether or not a string is a valid identifier.
func IsValid(value string) bool {
	if len(value) != requiredPrefixLength+1+targetBase62Length {
		return false
	}
	for i, r := range value {
		if i < requiredPrefixLength {
			if r < 'a' || r > 'z' {
				return false
			}
		} else if i == requiredPrefixLength {
			if r != '_' {
				return false
			}
		} else if !strings.ContainsRune(encoding.Base62Alphabet, r) {
			return false
		}
	}
	return true
}
