// Package guestgen assembles small guest modules directly in the WebAssembly
// binary format. Tests and the CLI demo mode use it to produce
// guests with known behavior (carry a counter, trap on a chosen opcode,
// declare a differently-shaped state region) without shipping a toolchain.
package guestgen

import (
	"bytes"
)

// Action selects what a guest does when its entry point receives a given
// opcode.
type Action int

const (
	ReturnZero     Action = iota // i32.const 0
	ReturnVersion                // echo the version parameter
	ReturnUserdata               // echo the userdata parameter
	ReturnConst                  // return Op.Const
	Counter                      // increment the i32 at the state base, return the new value
	TrapUnreachable
	TrapOOBLoad // load far past the end of linear memory
	TrapDivZero
)

// Op is the behavior bound to one opcode.
type Op struct {
	Action Action
	Const  int32
}

// Guest describes a module to assemble. The zero value builds a guest with
// no state region that returns 0 from every entry.
type Guest struct {
	// StateBase/StateLen declare the state region. StateLen == 0 omits the
	// cr_state exports entirely.
	StateBase uint32
	StateLen  uint32

	// StateInit seeds the region through a data segment. May be shorter than
	// StateLen; the rest stays zero.
	StateInit []byte

	// NoMemory omits the memory section and export, producing a guest that
	// cannot carry state.
	NoMemory bool

	// Padding appends an inert custom section of the given size, so two
	// otherwise identical guests differ on disk.
	Padding int

	OnLoad   Op
	OnStep   Op
	OnUnload Op
	OnClose  Op
}

// CounterGuest is the canonical state-carrying fixture: an i32 counter at
// offset 16, seeded with start, incremented and returned on every STEP.
func CounterGuest(start uint32) Guest {
	return Guest{
		StateBase: 16,
		StateLen:  4,
		StateInit: []byte{byte(start), byte(start >> 8), byte(start >> 16), byte(start >> 24)},
		OnStep:    Op{Action: Counter},
	}
}

const (
	opUnreachable = 0x00
	opIf          = 0x04
	opEnd         = 0x0b
	opReturn      = 0x0f
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI32Const    = 0x41
	opI32Eq       = 0x46
	opI32Add      = 0x6a
	opI32DivS     = 0x6d

	blockVoid = 0x40
)

const (
	secType   = 1
	secFunc   = 3
	secMemory = 5
	secGlobal = 6
	secExport = 7
	secCode   = 10
	secData   = 11
	secCustom = 0
)

const (
	kindFunc   = 0
	kindMemory = 2
	kindGlobal = 3
)

// Build assembles the module bytes.
func (g Guest) Build() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	// type: (i32, i32, i32) -> i32
	writeSection(&out, secType, func(b *bytes.Buffer) {
		uleb(b, 1)
		b.WriteByte(0x60)
		uleb(b, 3)
		b.Write([]byte{0x7f, 0x7f, 0x7f})
		uleb(b, 1)
		b.WriteByte(0x7f)
	})

	writeSection(&out, secFunc, func(b *bytes.Buffer) {
		uleb(b, 1)
		uleb(b, 0)
	})

	if !g.NoMemory {
		writeSection(&out, secMemory, func(b *bytes.Buffer) {
			uleb(b, 1)
			b.WriteByte(0x00) // min only
			uleb(b, 1)        // one page
		})
	}

	hasState := g.StateLen > 0
	if hasState {
		writeSection(&out, secGlobal, func(b *bytes.Buffer) {
			uleb(b, 2)
			for _, v := range []uint32{g.StateBase, g.StateLen} {
				b.WriteByte(0x7f) // i32
				b.WriteByte(0x00) // immutable
				b.WriteByte(opI32Const)
				sleb(b, int32(v))
				b.WriteByte(opEnd)
			}
		})
	}

	writeSection(&out, secExport, func(b *bytes.Buffer) {
		count := 1
		if !g.NoMemory {
			count++
		}
		if hasState {
			count += 2
		}
		uleb(b, uint32(count))
		writeExport(b, "cr_main", kindFunc, 0)
		if !g.NoMemory {
			writeExport(b, "memory", kindMemory, 0)
		}
		if hasState {
			writeExport(b, "cr_state", kindGlobal, 0)
			writeExport(b, "cr_state_len", kindGlobal, 1)
		}
	})

	writeSection(&out, secCode, func(b *bytes.Buffer) {
		uleb(b, 1)
		body := g.entryBody()
		uleb(b, uint32(len(body)))
		b.Write(body)
	})

	if len(g.StateInit) > 0 && !g.NoMemory {
		writeSection(&out, secData, func(b *bytes.Buffer) {
			uleb(b, 1)
			uleb(b, 0) // active, memory 0
			b.WriteByte(opI32Const)
			sleb(b, int32(g.StateBase))
			b.WriteByte(opEnd)
			uleb(b, uint32(len(g.StateInit)))
			b.Write(g.StateInit)
		})
	}

	if g.Padding > 0 {
		writeSection(&out, secCustom, func(b *bytes.Buffer) {
			name := "pad"
			uleb(b, uint32(len(name)))
			b.WriteString(name)
			b.Write(make([]byte, g.Padding))
		})
	}

	return out.Bytes()
}

// entryBody emits cr_main: a dispatch over the op parameter (local 2), one
// guarded block per opcode, falling through to -1 for unknown ops.
func (g Guest) entryBody() []byte {
	var b bytes.Buffer
	uleb(&b, 0) // no locals

	ops := []Op{g.OnLoad, g.OnStep, g.OnUnload, g.OnClose}
	for code, op := range ops {
		b.WriteByte(opLocalGet)
		uleb(&b, 2)
		b.WriteByte(opI32Const)
		sleb(&b, int32(code))
		b.WriteByte(opI32Eq)
		b.WriteByte(opIf)
		b.WriteByte(blockVoid)
		g.emitAction(&b, op)
		b.WriteByte(opEnd)
	}

	b.WriteByte(opI32Const)
	sleb(&b, -1)
	b.WriteByte(opEnd)
	return b.Bytes()
}

func (g Guest) emitAction(b *bytes.Buffer, op Op) {
	switch op.Action {
	case ReturnZero:
		b.WriteByte(opI32Const)
		sleb(b, 0)
		b.WriteByte(opReturn)
	case ReturnVersion:
		b.WriteByte(opLocalGet)
		uleb(b, 0)
		b.WriteByte(opReturn)
	case ReturnUserdata:
		b.WriteByte(opLocalGet)
		uleb(b, 1)
		b.WriteByte(opReturn)
	case ReturnConst:
		b.WriteByte(opI32Const)
		sleb(b, op.Const)
		b.WriteByte(opReturn)
	case Counter:
		base := int32(g.StateBase)
		b.WriteByte(opI32Const)
		sleb(b, base)
		b.WriteByte(opI32Const)
		sleb(b, base)
		b.Write([]byte{opI32Load, 0x02, 0x00})
		b.WriteByte(opI32Const)
		sleb(b, 1)
		b.WriteByte(opI32Add)
		b.Write([]byte{opI32Store, 0x02, 0x00})
		b.WriteByte(opI32Const)
		sleb(b, base)
		b.Write([]byte{opI32Load, 0x02, 0x00})
		b.WriteByte(opReturn)
	case TrapUnreachable:
		b.WriteByte(opUnreachable)
	case TrapOOBLoad:
		b.WriteByte(opI32Const)
		sleb(b, 0x7ffffff0)
		b.Write([]byte{opI32Load, 0x02, 0x00})
		b.WriteByte(opDrop)
		b.WriteByte(opI32Const)
		sleb(b, 0)
		b.WriteByte(opReturn)
	case TrapDivZero:
		b.WriteByte(opI32Const)
		sleb(b, 1)
		b.WriteByte(opI32Const)
		sleb(b, 0)
		b.WriteByte(opI32DivS)
		b.WriteByte(opDrop)
		b.WriteByte(opI32Const)
		sleb(b, 0)
		b.WriteByte(opReturn)
	}
}

func writeExport(b *bytes.Buffer, name string, kind byte, index uint32) {
	uleb(b, uint32(len(name)))
	b.WriteString(name)
	b.WriteByte(kind)
	uleb(b, index)
}

func writeSection(out *bytes.Buffer, id byte, fill func(*bytes.Buffer)) {
	var body bytes.Buffer
	fill(&body)
	out.WriteByte(id)
	uleb(out, uint32(body.Len()))
	out.Write(body.Bytes())
}

func uleb(b *bytes.Buffer, v uint32) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.WriteByte(c)
		if v == 0 {
			return
		}
	}
}

func sleb(b *bytes.Buffer, v int32) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			b.WriteByte(c)
			return
		}
		b.WriteByte(c | 0x80)
	}
}
