// Package dpi performs second-stage deep packet inspection on a parsed
// Modbus frame: confirming it is a plausible request for its function
// code before the policy engine ever sees it. DPI never mutates frames
// and never dispatches to a handler — it only classifies.
package dpi

import (
	"encoding/binary"
	"fmt"

	"github.com/ironwall/modbusguard/internal/frame"
)

// Function codes the firewall understands structurally.
const (
	ReadCoils                  = 0x01
	ReadDiscreteInputs         = 0x02
	ReadHoldingRegisters       = 0x03
	ReadInputRegisters         = 0x04
	WriteSingleCoil            = 0x05
	WriteSingleRegister        = 0x06
	WriteMultipleCoils         = 0x0F
	WriteMultipleRegisters     = 0x10
	ReadWriteMultipleRegisters = 0x17
	ReadDeviceIdentification   = 0x2B
)

// FunctionName maps a function code to the human label used in log
// records. Unrecognized codes are rendered numerically.
func FunctionName(code byte) string {
	switch code {
	case ReadCoils:
		return "ReadCoils"
	case ReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case ReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case ReadInputRegisters:
		return "ReadInputRegisters"
	case WriteSingleCoil:
		return "WriteSingleCoil"
	case WriteSingleRegister:
		return "WriteSingleRegister"
	case WriteMultipleCoils:
		return "WriteMultipleCoils"
	case WriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case ReadWriteMultipleRegisters:
		return "ReadWriteMultipleRegisters"
	case ReadDeviceIdentification:
		return "ReadDeviceIdentification"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", code)
	}
}

// IsRecognized reports whether code is one of the structurally
// understood Modbus request function codes.
func IsRecognized(code byte) bool {
	switch code {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters,
		WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters,
		ReadWriteMultipleRegisters, ReadDeviceIdentification:
		return true
	default:
		return false
	}
}

// Inspect validates the structural shape of f's payload for its
// function code. A non-nil error carries the distinct reason and always
// escalates to category=StructuralError in the policy result.
func Inspect(f *frame.Frame) error {
	switch f.FunctionCode {
	case ReadCoils, ReadDiscreteInputs:
		return inspectRead(f, 2000)
	case ReadHoldingRegisters, ReadInputRegisters:
		return inspectRead(f, 125)
	case WriteSingleCoil, WriteSingleRegister:
		if len(f.Data) != 4 {
			return fmt.Errorf("dpi: write-single requires 4 data bytes, got %d", len(f.Data))
		}
		return nil
	case WriteMultipleCoils:
		return inspectWriteMultiple(f, 1968)
	case WriteMultipleRegisters:
		return inspectWriteMultiple(f, 123)
	case ReadWriteMultipleRegisters:
		return inspectReadWriteMultiple(f)
	case ReadDeviceIdentification:
		if len(f.Data) < 1 {
			return fmt.Errorf("dpi: device identification requires a MEI sub-code")
		}
		return nil
	default:
		// Unrecognized function codes are structurally accepted here;
		// the policy engine classifies them as UnknownFC.
		return nil
	}
}

func inspectRead(f *frame.Frame, maxQuantity uint16) error {
	if len(f.Data) != 4 {
		return fmt.Errorf("dpi: read request requires 4 data bytes, got %d", len(f.Data))
	}
	quantity := binary.BigEndian.Uint16(f.Data[2:4])
	if quantity < 1 || quantity > maxQuantity {
		return fmt.Errorf("dpi: quantity %d out of range (1-%d)", quantity, maxQuantity)
	}
	return nil
}

// inspectReadWriteMultiple validates a 0x17 request: read address/quantity,
// write address/quantity, then a write byte count that must match both the
// write quantity and the trailing payload.
func inspectReadWriteMultiple(f *frame.Frame) error {
	if len(f.Data) < 9 {
		return fmt.Errorf("dpi: read-write-multiple requires at least 9 data bytes, got %d", len(f.Data))
	}
	readQuantity := binary.BigEndian.Uint16(f.Data[2:4])
	if readQuantity < 1 || readQuantity > 125 {
		return fmt.Errorf("dpi: read quantity %d out of range (1-125)", readQuantity)
	}
	writeQuantity := binary.BigEndian.Uint16(f.Data[6:8])
	if writeQuantity < 1 || writeQuantity > 121 {
		return fmt.Errorf("dpi: write quantity %d out of range (1-121)", writeQuantity)
	}
	byteCount := f.Data[8]
	if int(byteCount) != len(f.Data)-9 || int(byteCount) != int(writeQuantity)*2 {
		return fmt.Errorf("dpi: byte count %d does not match write quantity %d / payload %d", byteCount, writeQuantity, len(f.Data)-9)
	}
	return nil
}

func inspectWriteMultiple(f *frame.Frame, maxQuantity uint16) error {
	if len(f.Data) < 5 {
		return fmt.Errorf("dpi: write-multiple requires at least 5 data bytes, got %d", len(f.Data))
	}
	quantity := binary.BigEndian.Uint16(f.Data[2:4])
	byteCount := f.Data[4]
	if int(byteCount) != len(f.Data)-5 {
		return fmt.Errorf("dpi: byte count %d does not match remaining payload %d", byteCount, len(f.Data)-5)
	}
	if quantity < 1 || quantity > maxQuantity {
		return fmt.Errorf("dpi: quantity %d out of range (1-%d)", quantity, maxQuantity)
	}
	return nil
}
