package output

import (
	"deedles.dev/wlcomp/region"
)

// ScheduleRepaint asks for the output to be painted. Calling it while
// a repaint is already pending has no effect. It may be called from
// any goroutine.
func (o *Output) ScheduleRepaint() {
	if o.repaint.Swap(true) {
		return
	}
	o.poke()
}

// RepaintPending reports whether a repaint has been scheduled but not
// yet started.
func (o *Output) RepaintPending() bool {
	return o.repaint.Load()
}

func (o *Output) poke() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// AddDamage marks r, in global logical coordinates, as needing to be
// redrawn and schedules a repaint if any of it lies on the output.
func (o *Output) AddDamage(r region.Region) {
	if !o.mergeDamage(r) {
		return
	}
	o.ScheduleRepaint()
}

// DamageAll marks the entire output as needing to be redrawn.
func (o *Output) DamageAll() {
	o.AddDamage(region.New(o.Rect()))
}

// Damage returns the damage accumulated since the last paint.
func (o *Output) Damage() region.Region {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.damage
}

func (o *Output) mergeDamage(r region.Region) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	r = r.IntersectRect(o.rectLocked())
	if r.Empty() {
		return false
	}
	o.damage = o.damage.Union(r)
	return true
}

func (o *Output) takeDamage() region.Region {
	o.mu.Lock()
	defer o.mu.Unlock()

	d := o.damage
	o.damage = region.Region{}
	return d
}

// history remembers the damage of recently presented frames, newest
// first, so that images that still hold older content only need the
// difference redrawn.
type history struct {
	entries []region.Region
	limit   int
}

func (h *history) reset(limit int) {
	h.entries = h.entries[:0]
	h.limit = max(limit, 1)
}

func (h *history) push(damage region.Region) {
	if len(h.entries) < h.limit {
		h.entries = append(h.entries, region.Region{})
	}
	copy(h.entries[1:], h.entries)
	h.entries[0] = damage
}

// repaint returns the area that must be redrawn into an image of the
// given age for it to be up to date, given this frame's fresh damage.
// An age of zero or one older than the history results in full.
func (h *history) repaint(fresh region.Region, age int, full region.Region) region.Region {
	if (age <= 0) || (age > len(h.entries)) {
		return full
	}

	r := fresh
	for _, d := range h.entries[:age] {
		r = r.Union(d)
	}
	return r.Intersect(full)
}
