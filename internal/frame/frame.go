// Package frame implements the Modbus/TCP MBAP+PDU codec: parsing raw
// bytes off the wire into a structured frame, and building the
// synthetic exception replies the firewall sends in place of a blocked
// or rate-limited request.
package frame

import (
	"encoding/binary"
	"errors"
)

// Recognized Modbus exception codes. Every BLOCK reply uses
// IllegalFunction uniformly, regardless of denial reason; the rest are
// named for callers that need a specific code and are otherwise unused.
const (
	IllegalFunction        byte = 0x01
	IllegalDataAddress     byte = 0x02
	IllegalDataValue       byte = 0x03
	GatewayPathUnavailable byte = 0x0A
)

// Parse errors. Each is returned verbatim so callers (the logger) can
// report a distinct reason without re-deriving it from the frame.
var (
	ErrTooShort          = errors.New("frame: too short")
	ErrInvalidProtocolID = errors.New("frame: invalid protocol id")
	ErrLengthMismatch    = errors.New("frame: length mismatch")
)

const (
	mbapHeaderLen = 7
	maxADULen     = 260
)

// Frame is the parsed view of one Modbus/TCP ADU.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        byte
	FunctionCode  byte
	Data          []byte
	Raw           []byte
}

// Parse decodes the MBAP header and PDU from b. The returned Frame's Raw
// field aliases b; callers that retain b across reads must copy it first.
func Parse(b []byte) (*Frame, error) {
	if len(b) < mbapHeaderLen+1 {
		return nil, ErrTooShort
	}

	protocolID := binary.BigEndian.Uint16(b[2:4])
	if protocolID != 0 {
		return nil, ErrInvalidProtocolID
	}

	length := binary.BigEndian.Uint16(b[4:6])
	if length < 2 || int(length) != len(b)-6 || len(b) > maxADULen {
		return nil, ErrLengthMismatch
	}

	return &Frame{
		TransactionID: binary.BigEndian.Uint16(b[0:2]),
		ProtocolID:    protocolID,
		Length:        length,
		UnitID:        b[6],
		FunctionCode:  b[7],
		Data:          b[8:],
		Raw:           b,
	}, nil
}

// BuildException synthesizes a 9-byte MBAP exception reply for f: the
// high bit set on the function code, one data byte equal to code, and
// the original transaction id and unit id echoed back.
func BuildException(f *Frame, code byte) []byte {
	res := make([]byte, 9)
	binary.BigEndian.PutUint16(res[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(res[2:4], 0)
	binary.BigEndian.PutUint16(res[4:6], 3)
	res[6] = f.UnitID
	res[7] = 0x80 | f.FunctionCode
	res[8] = code
	return res
}
