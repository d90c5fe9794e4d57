package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	// probeMagic identifies probe datagrams.
	probeMagic = "hotswap-probe/1"
	// replyMagic identifies reply datagrams.
	replyMagic = "hotswap-reply/1"
	// maximumDatagramSize is the largest datagram we read.
	maximumDatagramSize = 2048
)

// probe is sent by agents to the rendezvous address.
type probe struct {
	// Magic is probeMagic.
	Magic string `json:"magic"`
	// Identity is the agent's declared identity.
	Identity string `json:"identity"`
	// KeyDigest is the digest of the agent's shared key.
	KeyDigest string `json:"key"`
}

// reply is sent by responders back to a probing agent.
type reply struct {
	// Magic is replyMagic.
	Magic string `json:"magic"`
	// Identity is the server's identity.
	Identity string `json:"identity"`
	// Port is the server's command port.
	Port int `json:"port"`
}

// keyDigest computes the digest of a shared key sent in probes. The key itself
// never leaves the process over the rendezvous channel.
func keyDigest(key string) string {
	sum := sha256.Sum256([]byte("hotswap-discovery:" + key))
	return hex.EncodeToString(sum[:16])
}

// decodeProbe decodes and validates a probe datagram.
func decodeProbe(data []byte) (*probe, error) {
	result := &probe{}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, errors.Wrap(err, "unable to decode probe")
	} else if result.Magic != probeMagic {
		return nil, errors.New("probe magic incorrect")
	}
	return result, nil
}

// decodeReply decodes and validates a reply datagram.
func decodeReply(data []byte) (*reply, error) {
	result := &reply{}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, errors.Wrap(err, "unable to decode reply")
	} else if result.Magic != replyMagic {
		return nil, errors.New("reply magic incorrect")
	} else if result.Port <= 0 || result.Port > 65535 {
		return nil, errors.Errorf("reply port (%d) out of range", result.Port)
	}
	return result, nil
}
