// Package policy implements the firewall's decision engine: given a
// validated frame and a source address, it returns an allow/block
// verdict according to an immutable SecurityPolicy plus the live state
// of the rate limiter. The policy itself is frozen data, not a class
// hierarchy — different deployments swap in different Policy values,
// and Evaluate never branches on "policy type".
package policy

import (
	"fmt"

	"github.com/ironwall/modbusguard/internal/frame"
	"github.com/ironwall/modbusguard/internal/ratelimit"
)

// Category classifies why a decision was reached.
type Category string

const (
	AllowedFC       Category = "AllowedFC"
	BlockedFC       Category = "BlockedFC"
	UnknownFC       Category = "UnknownFC"
	SourceDenied    Category = "SourceDenied"
	RateLimited     Category = "RateLimited"
	StructuralError Category = "StructuralError"
)

// Decision is the result of evaluating one request. It is created fresh
// per request and never persisted.
type Decision struct {
	Allowed  bool
	Reason   string
	Category Category
}

// writeFunctionCodes are the Modbus function codes that mutate PLC
// state; source-address exemption only ever applies to these.
var writeFunctionCodes = map[byte]bool{
	0x05: true, // WriteSingleCoil
	0x06: true, // WriteSingleRegister
	0x0F: true, // WriteMultipleCoils
	0x10: true, // WriteMultipleRegisters
	0x16: true, // MaskWriteRegister
}

// Policy is an immutable security policy: the set of allowed and
// blocked function codes, the set of source addresses exempt from
// write-blocking, and the rate-limit threshold. Zero value is invalid;
// use New to construct one with the bookkeeping it needs.
type Policy struct {
	Allowed         map[byte]bool
	Blocked         map[byte]bool
	WriteAllowedIPs map[string]bool
	RateLimitRPS    int

	limiter *ratelimit.Limiter
}

// Default returns the policy shipped with the system: allow reads,
// block writes, no write exemptions, 100 req/s/source.
func Default() *Policy {
	return New(
		[]byte{0x01, 0x02, 0x03, 0x04},
		[]byte{0x05, 0x06, 0x0F, 0x10},
		nil,
		100,
	)
}

// New builds a Policy from the given function-code sets, exempt source
// addresses, and per-source rate limit.
func New(allowed, blocked []byte, writeAllowedIPs []string, rateLimitRPS int) *Policy {
	p := &Policy{
		Allowed:         make(map[byte]bool, len(allowed)),
		Blocked:         make(map[byte]bool, len(blocked)),
		WriteAllowedIPs: make(map[string]bool, len(writeAllowedIPs)),
		RateLimitRPS:    rateLimitRPS,
		limiter:         ratelimit.New(rateLimitRPS),
	}
	for _, fc := range allowed {
		p.Allowed[fc] = true
	}
	for _, fc := range blocked {
		p.Blocked[fc] = true
	}
	for _, ip := range writeAllowedIPs {
		p.WriteAllowedIPs[ip] = true
	}
	return p
}

// Evaluate returns the decision for frame f arriving from source
// address src (IP only, no port). Evaluation order is fixed and
// deterministic: source-based write denial first, then the blocked
// set, then the allowed set, then unknown-code default deny, and
// finally the rate limiter — which only ever downgrades an ALLOW.
func (p *Policy) Evaluate(f *frame.Frame, src string) Decision {
	fc := f.FunctionCode

	if writeFunctionCodes[fc] && !p.WriteAllowedIPs[src] {
		return Decision{
			Allowed:  false,
			Reason:   fmt.Sprintf("write function 0x%02X denied for source %s", fc, src),
			Category: SourceDenied,
		}
	}

	if p.Blocked[fc] {
		return Decision{
			Allowed:  false,
			Reason:   fmt.Sprintf("function code 0x%02X is blocked by policy", fc),
			Category: BlockedFC,
		}
	}

	if !p.Allowed[fc] {
		return Decision{
			Allowed:  false,
			Reason:   fmt.Sprintf("function code 0x%02X is not in the allow list", fc),
			Category: UnknownFC,
		}
	}

	if !p.limiter.Check(src) {
		return Decision{
			Allowed:  false,
			Reason:   fmt.Sprintf("source %s exceeded %d requests/second", src, p.RateLimitRPS),
			Category: RateLimited,
		}
	}

	return Decision{
		Allowed:  true,
		Reason:   "allowed by policy",
		Category: AllowedFC,
	}
}
