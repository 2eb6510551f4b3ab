// Package limits provides centralized size constants and validation functions
// for the mesh protocol. It keeps frame, payload and MTU bounds consistent
// between the codec, the fragmenter and the node API.
//
// # Size Hierarchy
//
//   - MaxPlaintextPayload: largest application payload accepted by the node API.
//     Leaves room for the session cipher overhead so the encrypted payload still
//     fits MaxPayload.
//
//   - MaxPayload: largest payload an Envelope may carry on the wire.
//
//   - MaxFrameSize: largest encoded Envelope (MaxPayload plus the fixed
//     EnvelopeOverhead). Decoders reject declared lengths above this before
//     allocating anything.
//
// # MTU Bounds
//
// Every chunk carries an 8-byte header, so a link must offer at least MinMTU
// (header plus one data byte). DefaultMTU matches the smallest attribute size
// commonly negotiated by short-range radio links.
//
//	if err := limits.ValidateMTU(link.MTU()); err != nil {
//	    // reject the link
//	}
//
// # Error Types
//
//   - ErrMessageEmpty: an empty or nil payload was provided
//   - ErrMessageTooLarge: the payload exceeds the specified limit
//   - ErrInvalidMTU: the MTU cannot carry a chunk header plus data
package limits
