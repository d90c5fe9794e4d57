// Package protocol implements the injection wire format: the commands sent from
// a server to an in-process agent, the responses sent back, and the framing
// used to carry both over an ordered byte stream.
//
// Every value travels as a self-delimiting frame:
//
//	tag     int32 (big endian)
//	length  uint32 (big endian)
//	payload [length]byte
//
// Payload fields are length-prefixed, so arbitrary bytes may be embedded. A
// receiver that does not recognize a tag can still skip the frame, which is
// what keeps older agents in sync with newer servers.
package protocol
