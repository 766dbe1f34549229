package wasmscan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrOverflow is returned when a LEB128 value exceeds the maximum bit width.
var ErrOverflow = errors.New("leb128: overflow")

// Export kinds as encoded in the export section.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
)

// Export is one entry of the module's export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Segment is an active data segment targeting memory 0 with a constant
// offset. Segments with computed offsets (global.get) are not reported.
type Segment struct {
	Offset uint32
	Length uint32
}

// Module is the subset of a parsed binary this package exposes.
type Module struct {
	Exports  []Export
	Segments []Segment
}

// HasExport reports whether name is exported with the given kind.
func (m *Module) HasExport(name string, kind byte) bool {
	for _, e := range m.Exports {
		if e.Name == name && e.Kind == kind {
			return true
		}
	}
	return false
}

const (
	sectionData   byte = 11
	sectionExport byte = 7
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Scan parses the export and data sections of a core module binary.
func Scan(data []byte) (*Module, error) {
	if len(data) < len(magic) || !bytes.Equal(data[:4], magic[:4]) {
		return nil, errors.New("not a wasm binary")
	}
	if !bytes.Equal(data[4:8], magic[4:8]) {
		return nil, fmt.Errorf("unsupported wasm version %x", binary.LittleEndian.Uint32(data[4:8]))
	}

	r := bytes.NewReader(data[8:])
	m := &Module{}

	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			return m, nil
		}
		if err != nil {
			return nil, err
		}
		size, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("section %d truncated: %d bytes declared, %d remain", id, size, r.Len())
		}

		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}

		switch id {
		case sectionExport:
			if err := parseExports(bytes.NewReader(body), m); err != nil {
				return nil, fmt.Errorf("export section: %w", err)
			}
		case sectionData:
			if err := parseData(bytes.NewReader(body), m); err != nil {
				return nil, fmt.Errorf("data section: %w", err)
			}
		}
	}
}

func parseExports(r *bytes.Reader, m *Module) error {
	count, err := readU32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := readName(r)
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("export %q: bad kind %d", name, kind)
		}
		index, err := readU32(r)
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: index})
	}
	return nil
}

func parseData(r *bytes.Reader, m *Module) error {
	count, err := readU32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mode, err := readU32(r)
		if err != nil {
			return err
		}
		switch mode {
		case 0: // active, memory 0, offset expr
			offset, constant, err := readOffsetExpr(r)
			if err != nil {
				return err
			}
			length, err := readU32(r)
			if err != nil {
				return err
			}
			if err := skip(r, int64(length)); err != nil {
				return err
			}
			if constant {
				m.Segments = append(m.Segments, Segment{Offset: offset, Length: length})
			}
		case 1: // passive
			length, err := readU32(r)
			if err != nil {
				return err
			}
			if err := skip(r, int64(length)); err != nil {
				return err
			}
		case 2: // active with explicit memory index
			if _, err := readU32(r); err != nil {
				return err
			}
			offset, constant, err := readOffsetExpr(r)
			if err != nil {
				return err
			}
			length, err := readU32(r)
			if err != nil {
				return err
			}
			if err := skip(r, int64(length)); err != nil {
				return err
			}
			if constant {
				m.Segments = append(m.Segments, Segment{Offset: offset, Length: length})
			}
		default:
			return fmt.Errorf("data segment %d: bad mode %d", i, mode)
		}
	}
	return nil
}

// readOffsetExpr consumes an init expression. For the common i32.const form
// it returns the constant offset; other opcodes are skipped to the
// terminating end and reported as non-constant.
func readOffsetExpr(r *bytes.Reader) (offset uint32, constant bool, err error) {
	op, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}
	switch op {
	case 0x41: // i32.const
		v, err := readS32(r)
		if err != nil {
			return 0, false, err
		}
		end, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		if end != 0x0b {
			return 0, false, fmt.Errorf("offset expr: expected end, got %#x", end)
		}
		return uint32(v), true, nil
	case 0x23: // global.get
		if _, err := readU32(r); err != nil {
			return 0, false, err
		}
		end, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		if end != 0x0b {
			return 0, false, fmt.Errorf("offset expr: expected end, got %#x", end)
		}
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("offset expr: unsupported opcode %#x", op)
	}
}

func readName(r *bytes.Reader) (string, error) {
	length, err := readU32(r)
	if err != nil {
		return "", err
	}
	if int64(length) > int64(r.Len()) {
		return "", fmt.Errorf("name truncated: %d bytes declared", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func skip(r *bytes.Reader, n int64) error {
	if n > int64(r.Len()) {
		return io.ErrUnexpectedEOF
	}
	_, err := r.Seek(n, io.SeekCurrent)
	return err
}

// readU32 reads an unsigned LEB128 value.
func readU32(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, ErrOverflow
		}
	}
}

// readS32 reads a signed LEB128 value.
func readS32(r io.ByteReader) (int32, error) {
	var result int32
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 35 {
			return 0, ErrOverflow
		}
	}
	if shift < 32 && b&0x40 != 0 {
		result |= ^int32(0) << shift
	}
	return result, nil
}
