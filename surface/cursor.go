package surface

import "image"

// Cursor is the role of a surface that is drawn at the pointer.
type Cursor struct {
	roleBase
	hotspot image.Point
}

func (c *Cursor) Kind() RoleKind { return RoleCursor }
func (c *Cursor) band() band     { return bandCursor }

func (c *Cursor) Pos() image.Point {
	return c.s.m.cursorPos.Sub(c.hotspot)
}

// Mappable reports whether the surface is the current cursor.
func (c *Cursor) Mappable() bool {
	return c.s.m.cursor == c.s.ref
}

// Hotspot returns the point in the surface that is placed at the
// pointer position.
func (c *Cursor) Hotspot() image.Point {
	return c.hotspot
}

// applied moves the hotspot against the attach offset so that the
// image moves while the hotspot stays with the pointer.
func (c *Cursor) applied(ch Change, n *notes) {
	c.hotspot = c.hotspot.Sub(c.s.current.Offset)
}

// SetCursor makes s the pointer's image with the given hotspot. A nil
// surface hides the cursor.
func (m *Manager) SetCursor(s *Surface, hotspot image.Point) error {
	old := m.Lookup(m.cursor)
	if s == nil {
		m.cursor = Ref{}
		m.refresh(old)
		return nil
	}

	c, ok := s.role.(*Cursor)
	if !ok {
		c = &Cursor{roleBase: roleBase{s: s}}
		err := s.setRole(c)
		if err != nil {
			return err
		}
		m.update(func(n *notes) {
			m.roots = append(m.roots, s.ref)
			m.restackLocked()
		})
	}
	c.hotspot = hotspot
	m.cursor = s.ref

	if old == s {
		old = nil
	}
	m.refresh(old, s)
	return nil
}

// Cursor returns the current cursor surface, or nil.
func (m *Manager) Cursor() *Surface {
	return m.Lookup(m.cursor)
}

// DragIcon is the role of a surface that follows the pointer during a
// drag and drop operation.
type DragIcon struct {
	roleBase
	offset image.Point
}

func (d *DragIcon) Kind() RoleKind { return RoleDragIcon }
func (d *DragIcon) band() band     { return bandDragIcon }

func (d *DragIcon) Pos() image.Point {
	return d.s.m.cursorPos.Add(d.offset)
}

func (d *DragIcon) Mappable() bool {
	return d.s.m.dragIcon == d.s.ref
}

func (d *DragIcon) applied(c Change, n *notes) {
	d.offset = d.offset.Add(d.s.current.Offset)
}

// StartDrag shows s as the icon of a drag operation. A nil surface
// starts a drag without an icon.
func (m *Manager) StartDrag(s *Surface) error {
	old := m.Lookup(m.dragIcon)
	m.dragIcon = Ref{}
	if s != nil {
		if _, ok := s.role.(*DragIcon); !ok {
			err := s.setRole(&DragIcon{roleBase: roleBase{s: s}})
			if err != nil {
				return err
			}
			m.update(func(n *notes) {
				m.roots = append(m.roots, s.ref)
				m.restackLocked()
			})
		}
		m.dragIcon = s.ref
	}

	m.refresh(old, s)
	return nil
}

// EndDrag hides the drag icon.
func (m *Manager) EndDrag() {
	old := m.Lookup(m.dragIcon)
	m.dragIcon = Ref{}
	m.refresh(old)
}
