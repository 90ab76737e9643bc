package surface

// Ref is a weak reference to a Surface. It does not keep the surface
// alive, and once the surface is destroyed it resolves to nil without
// whoever is holding it having to be told. The zero Ref is always
// nil.
type Ref struct {
	idx uint32
	gen uint32
}

// Key returns a value that uniquely identifies the referenced surface
// for the lifetime of the process.
func (r Ref) Key() uint64 {
	return uint64(r.gen)<<32 | uint64(r.idx)
}

func (r Ref) IsZero() bool {
	return r == Ref{}
}

func refFromKey(key uint64) Ref {
	return Ref{idx: uint32(key), gen: uint32(key >> 32)}
}

type slot struct {
	gen uint32
	s   *Surface
}

// arena hands out Refs. Slot zero is never used so that the zero Ref
// never resolves.
type arena struct {
	slots []slot
	free  []uint32
}

func (a *arena) add(s *Surface) Ref {
	if len(a.slots) == 0 {
		a.slots = append(a.slots, slot{})
	}

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].s = s
		return Ref{idx: idx, gen: a.slots[idx].gen}
	}

	a.slots = append(a.slots, slot{gen: 1, s: s})
	return Ref{idx: uint32(len(a.slots) - 1), gen: 1}
}

func (a *arena) get(r Ref) *Surface {
	if (r.idx == 0) || (int(r.idx) >= len(a.slots)) {
		return nil
	}
	slot := a.slots[r.idx]
	if slot.gen != r.gen {
		return nil
	}
	return slot.s
}

func (a *arena) remove(r Ref) {
	if a.get(r) == nil {
		return
	}
	slot := &a.slots[r.idx]
	slot.s = nil
	slot.gen++
	if slot.gen == 0 {
		slot.gen = 1
	}
	a.free = append(a.free, r.idx)
}

// all calls yield for every live surface.
func (a *arena) all(yield func(*Surface)) {
	for _, slot := range a.slots {
		if slot.s != nil {
			yield(slot.s)
		}
	}
}
