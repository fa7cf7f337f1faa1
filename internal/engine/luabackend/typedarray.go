package luabackend

import (
	"encoding/binary"
	"math"

	"github.com/mystral-run/mystral/internal/engine"
)

// typedArray is the luabackend's representation of a JS typed array: a
// byte-addressable buffer plus an element kind, wrapped in a lua.LUserData
// since gopher-lua tables have no notion of contiguous binary storage. This
// mirrors the teacher's pattern of stashing non-Lua-native Go state inside
// LUserData.Value (internal/lua/userdata.go).
type typedArray struct {
	kind   engine.TypedArrayKind
	data   []byte
	length int // element count, not byte count
}

func elemSize(kind engine.TypedArrayKind) int {
	switch kind {
	case engine.Uint8Array:
		return 1
	case engine.Int32Array:
		return 4
	case engine.Float32Array:
		return 4
	case engine.Float64Array:
		return 8
	default:
		return 1
	}
}

func (ta *typedArray) get(c *Context, index int) (engine.Value, error) {
	if index < 0 || index >= ta.length {
		return c.Undefined(), nil
	}
	off := index * elemSize(ta.kind)
	switch ta.kind {
	case engine.Uint8Array:
		return c.NewNumber(float64(ta.data[off])), nil
	case engine.Int32Array:
		v := int32(binary.LittleEndian.Uint32(ta.data[off : off+4]))
		return c.NewNumber(float64(v)), nil
	case engine.Float32Array:
		bits := binary.LittleEndian.Uint32(ta.data[off : off+4])
		return c.NewNumber(float64(math.Float32frombits(bits))), nil
	case engine.Float64Array:
		bits := binary.LittleEndian.Uint64(ta.data[off : off+8])
		return c.NewNumber(math.Float64frombits(bits)), nil
	default:
		return c.Undefined(), nil
	}
}

func (ta *typedArray) set(index int, n float64) error {
	if index < 0 || index >= ta.length {
		return nil // out-of-range writes are no-ops, matching JS typed array semantics
	}
	off := index * elemSize(ta.kind)
	switch ta.kind {
	case engine.Uint8Array:
		ta.data[off] = byte(uint8(int64(n)))
	case engine.Int32Array:
		binary.LittleEndian.PutUint32(ta.data[off:off+4], uint32(int32(n)))
	case engine.Float32Array:
		binary.LittleEndian.PutUint32(ta.data[off:off+4], math.Float32bits(float32(n)))
	case engine.Float64Array:
		binary.LittleEndian.PutUint64(ta.data[off:off+8], math.Float64bits(n))
	}
	return nil
}

// NewTypedArray allocates engine-owned storage, optionally seeded from src.
func (c *Context) NewTypedArray(kind engine.TypedArrayKind, length int, src []byte) (engine.Value, error) {
	if length < 0 {
		return nil, c.errf("NewTypedArray: negative length")
	}
	buf := make([]byte, length*elemSize(kind))
	if src != nil {
		copy(buf, src)
	}
	ta := &typedArray{kind: kind, data: buf, length: length}
	ud := c.L.NewUserData()
	ud.Value = ta
	return c.wrap(ud), nil
}

// NewExternalTypedArray wraps host-owned backing storage without copying.
// The caller (spec §4.2) guarantees backing outlives the returned Value by
// pairing it with private data released at the same time.
func (c *Context) NewExternalTypedArray(kind engine.TypedArrayKind, backing []byte) (engine.Value, error) {
	size := elemSize(kind)
	length := len(backing) / size
	ta := &typedArray{kind: kind, data: backing, length: length}
	ud := c.L.NewUserData()
	ud.Value = ta
	return c.wrap(ud), nil
}
