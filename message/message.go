// Package message defines the RPC message structure exchanged between client and server.
//
// RPCMessage is the "envelope" for every RPC call. It gets serialized by the codec layer
// and wrapped in a protocol frame for transmission over TCP.
package message

import "google.golang.org/grpc/codes"

// RPCMessage carries the data for a single RPC request or response.
//
//   - On request:  ServiceMethod is set, Payload contains the serialized args, Status is OK.
//   - On response: Payload contains the serialized reply. A failed call carries a non-OK
//     Status and a single free-form Error string; that pair is the whole failure model
//     of the transport.
type RPCMessage struct {
	ServiceMethod string     // Format: "ServiceName.MethodName", e.g., "BinaryDownload.GetChunk"
	Status        codes.Code // codes.OK unless the call failed
	Error         string     // Free-form failure detail, empty on success
	Payload       []byte     // Serialized args (request) or reply (response) as JSON bytes
}

// Failed reports whether the message describes a failed call.
func (m *RPCMessage) Failed() bool {
	return m.Status != codes.OK || m.Error != ""
}

// Failure builds a response that carries only a status and a detail string.
func Failure(serviceMethod string, code codes.Code, detail string) *RPCMessage {
	if code == codes.OK {
		code = codes.Unknown
	}
	return &RPCMessage{ServiceMethod: serviceMethod, Status: code, Error: detail}
}
