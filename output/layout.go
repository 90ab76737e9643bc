package output

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"deedles.dev/wlcomp/internal/logger"
	"deedles.dev/wlcomp/region"
)

// removeTimeout is how long Remove waits for an output's rendering
// loop to stop.
const removeTimeout = 5 * time.Second

// Layout is the set of active outputs arranged in the global logical
// coordinate space. Each output's rendering loop runs as a service of
// the layout's supervisor.
type Layout struct {
	sup        *suture.Supervisor
	scene      Scene
	newPainter func(o *Output) Painter

	mu        sync.RWMutex
	outputs   []*Output
	tokens    map[*Output]suture.ServiceToken
	listener  Listener
	suspended bool
}

// NewLayout returns a Layout whose outputs draw scene using painters
// created by newPainter.
func NewLayout(scene Scene, newPainter func(o *Output) Painter) *Layout {
	l := Layout{
		scene:      scene,
		newPainter: newPainter,
		tokens:     make(map[*Output]suture.ServiceToken),
	}
	l.sup = suture.New("outputs", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Warn("output supervisor", "event", ev)
		},
	})

	return &l
}

// Serve runs the layout's outputs until ctx is canceled.
func (l *Layout) Serve(ctx context.Context) error {
	return l.sup.Serve(ctx)
}

// SetListener sets the listener that is told about changes to the
// layout. It should be called before any outputs are added.
func (l *Layout) SetListener(lis Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.listener = lis
}

func (l *Layout) getListener() Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.listener
}

// Add adds o to the layout and starts its rendering loop.
func (l *Layout) Add(o *Output) {
	o.mu.Lock()
	o.layout = l
	o.scene = l.scene
	if (o.painter == nil) && (l.newPainter != nil) {
		o.painter = l.newPainter(o)
	}
	o.mu.Unlock()

	l.mu.Lock()
	if _, ok := l.tokens[o]; ok {
		l.mu.Unlock()
		return
	}
	l.outputs = append(l.outputs, o)
	l.tokens[o] = l.sup.Add(o)
	suspended := l.suspended
	lis := l.listener
	l.mu.Unlock()

	if suspended {
		o.Suspend()
	}
	logger.Info("output added", "output", o.Name(), "mode", o.Mode())
	if lis != nil {
		lis.OutputAdded(o)
	}
}

// Remove stops o's rendering loop and removes it from the layout.
// The listener is told before the output is torn down.
func (l *Layout) Remove(o *Output) error {
	token, ok := l.drop(o)
	if !ok {
		return nil
	}

	if lis := l.getListener(); lis != nil {
		lis.OutputRemoved(o)
	}
	logger.Info("output removed", "output", o.Name())

	err := l.sup.RemoveAndWait(token, removeTimeout)
	switch {
	case errors.Is(err, suture.ErrSupervisorNotRunning):
	case err != nil:
		// The output may still be running, so its queues are left alone.
		return fmt.Errorf("stop %v: %w", o.Name(), err)
	}
	o.Close()
	return nil
}

// lost is called by an output's own goroutine when its device goes
// away. The output closes itself once it has been torn down.
func (l *Layout) lost(o *Output) {
	_, ok := l.drop(o)
	if !ok {
		return
	}

	if lis := l.getListener(); lis != nil {
		lis.OutputRemoved(o)
	}
}

func (l *Layout) drop(o *Output) (suture.ServiceToken, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	token, ok := l.tokens[o]
	if !ok {
		return token, false
	}
	delete(l.tokens, o)
	for i, v := range l.outputs {
		if v == o {
			l.outputs = append(l.outputs[:i:i], l.outputs[i+1:]...)
			break
		}
	}
	return token, true
}

func (l *Layout) notifyAvailable(o *Output) {
	if lis := l.getListener(); lis != nil {
		lis.AvailableGeometryChanged(o)
	}
}

// Outputs returns the outputs in the layout in the order that they
// were added.
func (l *Layout) Outputs() []*Output {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]*Output(nil), l.outputs...)
}

// At returns the output containing p, or nil.
func (l *Layout) At(p image.Point) *Output {
	for _, o := range l.Outputs() {
		if p.In(o.Rect()) {
			return o
		}
	}
	return nil
}

// Overlapping returns the outputs that share at least one pixel with
// r.
func (l *Layout) Overlapping(r image.Rectangle) []*Output {
	var outputs []*Output
	for _, o := range l.Outputs() {
		if r.Overlaps(o.Rect()) {
			outputs = append(outputs, o)
		}
	}
	return outputs
}

// Bounds returns the smallest rectangle containing every output.
func (l *Layout) Bounds() (b image.Rectangle) {
	for _, o := range l.Outputs() {
		b = b.Union(o.Rect())
	}
	return b
}

// AddDamage adds r to every output that it touches.
func (l *Layout) AddDamage(r region.Region) {
	if r.Empty() {
		return
	}
	for _, o := range l.Outputs() {
		o.AddDamage(r)
	}
}

// ScheduleRepaint schedules a repaint of every output.
func (l *Layout) ScheduleRepaint() {
	for _, o := range l.Outputs() {
		o.ScheduleRepaint()
	}
}

// Suspend suspends every output, such as when the session becomes
// inactive.
func (l *Layout) Suspend() {
	l.mu.Lock()
	l.suspended = true
	l.mu.Unlock()

	for _, o := range l.Outputs() {
		o.Suspend()
	}
}

func (l *Layout) isSuspended() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.suspended
}

func (l *Layout) Resume() {
	l.mu.Lock()
	l.suspended = false
	l.mu.Unlock()

	for _, o := range l.Outputs() {
		o.Resume()
	}
}
