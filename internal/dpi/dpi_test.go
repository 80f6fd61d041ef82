package dpi

import (
	"testing"

	"github.com/ironwall/modbusguard/internal/frame"
)

func mustParse(t *testing.T, b []byte) *frame.Frame {
	t.Helper()
	f, err := frame.Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func TestInspectReadHoldingRegistersOK(t *testing.T) {
	b := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	if err := Inspect(mustParse(t, b)); err != nil {
		t.Fatalf("Inspect: %v", err)
	}
}

func TestInspectReadBadDataLength(t *testing.T) {
	b := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x04, 0x01, 0x03, 0x00, 0x00}
	if err := Inspect(mustParse(t, b)); err == nil {
		t.Fatalf("expected error for short read payload")
	}
}

func TestInspectReadQuantityOutOfRange(t *testing.T) {
	b := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x7E} // 126 > 125
	if err := Inspect(mustParse(t, b)); err == nil {
		t.Fatalf("expected error for quantity > 125")
	}
}

func TestInspectWriteMultipleRegistersOK(t *testing.T) {
	// address=0, quantity=2, byteCount=4, 4 data bytes
	b := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x0B, 0x01, 0x10,
		0x00, 0x00, 0x00, 0x02, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}
	if err := Inspect(mustParse(t, b)); err != nil {
		t.Fatalf("Inspect: %v", err)
	}
}

func TestInspectWriteMultipleByteCountMismatch(t *testing.T) {
	b := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x0A, 0x01, 0x10,
		0x00, 0x00, 0x00, 0x02, 0x05, 0xAA, 0xBB, 0xCC}
	if err := Inspect(mustParse(t, b)); err == nil {
		t.Fatalf("expected byte count mismatch error")
	}
}

func TestInspectUnknownFunctionCodePasses(t *testing.T) {
	b := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x01, 0x63, 0x00}
	if err := Inspect(mustParse(t, b)); err != nil {
		t.Fatalf("unknown function codes should not fail DPI: %v", err)
	}
}

func TestFunctionNameKnownAndUnknown(t *testing.T) {
	if FunctionName(ReadHoldingRegisters) != "ReadHoldingRegisters" {
		t.Fatalf("unexpected name for ReadHoldingRegisters")
	}
	if FunctionName(0x63) != "Unknown(0x63)" {
		t.Fatalf("unexpected name for unknown code: %s", FunctionName(0x63))
	}
}
