package state

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/rvm/types"
)

var errMemoryLimit = errors.New("memory limit exceeded")

type page [types.PageSize]byte

// Memory is a byte-addressable region backed by lazily allocated pages.
// The logical size is part of the execution state and moves both ways under
// rewind; allocated pages are never released. Bytes at or beyond the logical
// size always read as zero.
//
// Stepping back over an expansion therefore lowers MSIZE to its earlier value.
// Interpreters that treat expansion as irreversible leave MSIZE grown instead,
// which would make the state after a rewind differ from the state first seen
// at that step.
type Memory struct {
	pages []*page
	size  uint64
	limit uint64
}

func NewMemory(limit uint64) *Memory {
	return &Memory{limit: limit}
}

// Len is the logical size in bytes.
func (m *Memory) Len() uint64 {
	return m.size
}

func (m *Memory) Limit() uint64 {
	return m.limit
}

// Footprint is the number of bytes held in allocated pages.
func (m *Memory) Footprint() uint64 {
	var n uint64
	for _, p := range m.pages {
		if p != nil {
			n += types.PageSize
		}
	}
	return n
}

// CheckBounds reports whether [offset, offset+size) stays under the limit.
func (m *Memory) CheckBounds(offset, size uint64) error {
	if size == 0 {
		return nil
	}
	end := offset + size
	if end < offset || end > m.limit {
		return fmt.Errorf("%w: [%d, %d+%d) limit %d", errMemoryLimit, offset, offset, size, m.limit)
	}
	return nil
}

// SetLen moves the logical size. Shrinking zeroes the bytes given up but keeps
// their pages.
func (m *Memory) SetLen(size uint64) error {
	if size > m.limit {
		return fmt.Errorf("%w: size %d limit %d", errMemoryLimit, size, m.limit)
	}
	if size < m.size {
		m.zero(size, m.size)
	}
	m.size = size
	return nil
}

// Read copies size bytes at offset. Unallocated and out-of-range bytes read as zero.
func (m *Memory) Read(offset, size uint64) []byte {
	out := make([]byte, size)
	for i := uint64(0); i < size; {
		addr := offset + i
		p := m.pageAt(addr)
		inPage := addr % types.PageSize
		n := min(types.PageSize-inPage, size-i)
		if p != nil && addr < m.size {
			copy(out[i:i+n], p[inPage:inPage+n])
		}
		i += n
	}
	return out
}

// Write stores data at offset; the range must lie inside the logical size.
func (m *Memory) Write(offset uint64, data []byte) error {
	end := offset + uint64(len(data))
	if end < offset || end > m.size {
		return fmt.Errorf("%w: write [%d, %d) beyond size %d", errMemoryLimit, offset, end, m.size)
	}
	m.write(offset, data)
	return nil
}

func (m *Memory) write(offset uint64, data []byte) {
	for i := uint64(0); i < uint64(len(data)); {
		addr := offset + i
		inPage := addr % types.PageSize
		n := min(types.PageSize-inPage, uint64(len(data))-i)
		p := m.pageAt(addr)
		if p == nil {
			if isZero(data[i : i+n]) {
				i += n
				continue
			}
			p = m.allocPage(addr)
		}
		copy(p[inPage:inPage+n], data[i:i+n])
		i += n
	}
}

func (m *Memory) zero(from, to uint64) {
	for addr := from; addr < to; {
		inPage := addr % types.PageSize
		n := min(types.PageSize-inPage, to-addr)
		if p := m.pageAt(addr); p != nil {
			clear(p[inPage : inPage+n])
		}
		addr += n
	}
}

func (m *Memory) pageAt(addr uint64) *page {
	idx := addr / types.PageSize
	if idx >= uint64(len(m.pages)) {
		return nil
	}
	return m.pages[idx]
}

func (m *Memory) allocPage(addr uint64) *page {
	idx := addr / types.PageSize
	for uint64(len(m.pages)) <= idx {
		m.pages = append(m.pages, nil)
	}
	if m.pages[idx] == nil {
		m.pages[idx] = new(page)
	}
	return m.pages[idx]
}

// Data returns a copy of the logical contents.
func (m *Memory) Data() []byte {
	return m.Read(0, m.size)
}

func (m *Memory) restore(data []byte) {
	if uint64(len(data)) < m.size {
		m.zero(uint64(len(data)), m.size)
	}
	m.size = uint64(len(data))
	m.write(0, data)
}

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
