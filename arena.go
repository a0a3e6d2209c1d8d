package vusic

// arena is slot storage addressed by generation-checked handles. A handle
// packs the slot index in the low 32 bits and the slot generation in the high
// 32 bits, so a handle to a removed entry never aliases a newer one. The zero
// handle is never valid.
type arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
}

type arenaSlot[T any] struct {
	gen  uint32
	used bool
	val  T
}

func packHandle(index, gen uint32) uint64 { return uint64(gen)<<32 | uint64(index) }

func unpackHandle(h uint64) (index, gen uint32) { return uint32(h), uint32(h >> 32) }

func (a *arena[T]) insert(v T) uint64 {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot[T]{})
	}
	s := &a.slots[index]
	s.gen++
	s.used = true
	s.val = v
	return packHandle(index, s.gen)
}

func (a *arena[T]) get(h uint64) (v T, ok bool) {
	index, gen := unpackHandle(h)
	if gen == 0 || int(index) >= len(a.slots) {
		return v, false
	}
	s := a.slots[index]
	if !s.used || s.gen != gen {
		return v, false
	}
	return s.val, true
}

func (a *arena[T]) remove(h uint64) bool {
	index, gen := unpackHandle(h)
	if gen == 0 || int(index) >= len(a.slots) {
		return false
	}
	s := &a.slots[index]
	if !s.used || s.gen != gen {
		return false
	}
	var zero T
	s.used = false
	s.val = zero
	a.free = append(a.free, index)
	return true
}

// each calls fn for every live entry, in slot order.
func (a *arena[T]) each(fn func(h uint64, v T) bool) {
	for i, s := range a.slots {
		if s.used && !fn(packHandle(uint32(i), s.gen), s.val) {
			return
		}
	}
}

func (a *arena[T]) len() int { return len(a.slots) - len(a.free) }
