package output

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"

	"deedles.dev/wlcomp/region"
)

var (
	// ErrLost is returned, or passed to Handler.OnLost, when the device
	// behind an output has gone away.
	ErrLost = errors.New("output lost")

	ErrGammaSize      = errors.New("gamma table size mismatch")
	ErrUnknownMode    = errors.New("mode not supported by output")
	ErrNotInitialized = errors.New("output not initialized")
	ErrNotNonDesktop  = errors.New("output is not a non-desktop output")
)

// Mode is a video mode. Refresh is in mHz.
type Mode struct {
	Width, Height int
	Refresh       int
	Preferred     bool
}

func (m Mode) Size() image.Point {
	return image.Pt(m.Width, m.Height)
}

// Interval returns the time between two refreshes, falling back to
// 60 Hz for modes without a known refresh rate.
func (m Mode) Interval() time.Duration {
	if m.Refresh <= 0 {
		return time.Second / 60
	}
	return time.Duration(int64(time.Second) * 1000 / int64(m.Refresh))
}

func (m Mode) String() string {
	return fmt.Sprintf("%vx%v@%v.%03vHz", m.Width, m.Height, m.Refresh/1000, m.Refresh%1000)
}

// GammaTable holds one ramp per channel. All three ramps have the same
// length.
type GammaTable struct {
	Red, Green, Blue []uint16
}

// NewGammaTable returns a linear table of the given size.
func NewGammaTable(size int) *GammaTable {
	g := GammaTable{
		Red:   make([]uint16, size),
		Green: make([]uint16, size),
		Blue:  make([]uint16, size),
	}
	for i := 0; i < size; i++ {
		v := uint16(0xFFFF)
		if size > 1 {
			v = uint16(i * 0xFFFF / (size - 1))
		}
		g.Red[i], g.Green[i], g.Blue[i] = v, v, v
	}
	return &g
}

// Size returns the number of entries per channel, or -1 if the ramps
// differ in length.
func (g *GammaTable) Size() int {
	if (len(g.Red) != len(g.Green)) || (len(g.Red) != len(g.Blue)) {
		return -1
	}
	return len(g.Red)
}

func (g *GammaTable) Clone() *GammaTable {
	return &GammaTable{
		Red:   append([]uint16(nil), g.Red...),
		Green: append([]uint16(nil), g.Green...),
		Blue:  append([]uint16(nil), g.Blue...),
	}
}

// ContentType is a hint about what an output is showing, as in
// wp_content_type_v1.
type ContentType uint32

const (
	ContentNone ContentType = iota
	ContentPhoto
	ContentVideo
	ContentGame
)

// PresentFlags match the wp_presentation_feedback kind bits.
type PresentFlags uint32

const (
	PresentVSync PresentFlags = 1 << iota
	PresentHWClock
	PresentHWCompletion
	PresentZeroCopy
)

// PresentTime describes when and how a frame reached the screen.
type PresentTime struct {
	Time    time.Time
	Refresh time.Duration
	Seq     uint64
	Flags   PresentFlags
}

// Image is a drawable image lent to an output for one frame.
type Image struct {
	Index int

	// Age is the number of frames since the image last held presented
	// content. Zero means the contents are unknown.
	Age int

	Target draw.Image
}

// Lease is a handle to an output leased to a client, as in DRM
// leasing for non-desktop displays.
type Lease interface {
	Revoke() error
}

// Backend drives a single physical or virtual output. Methods are
// called only from the output's own goroutine, except for the mode,
// gamma and capability accessors, which may be called from any
// goroutine.
type Backend interface {
	Name() string

	Initialize(h Handler) error
	Uninitialize()

	// RepaintRequest asks the backend to call Handler.OnPaintRequested
	// once it is ready for a new frame. It returns false if the backend
	// cannot currently accept frames.
	RepaintRequest() bool

	Images() []draw.Image
	AcquireImage() (Image, error)

	// Submit queues the image for presentation. The backend later
	// calls exactly one of OnPresented or OnDiscarded with id, from any
	// goroutine.
	Submit(id uint64, img Image, damage region.Region) error

	Modes() []Mode
	CurrentMode() Mode
	PreferredMode() Mode
	SetMode(m Mode) error

	GammaSize() int
	Gamma() *GammaTable
	SetGamma(g *GammaTable) error

	HasCursorPlane() bool
	SetCursor(img image.Image, hotspot image.Point) error
	SetCursorPosition(p image.Point)

	SetVSync(enabled bool) error
	SetContentType(t ContentType)

	NonDesktop() bool
	CreateLease() (Lease, error)
}

// Handler receives events from a Backend. Implementations must not
// block, since backends may call them from their own internal
// goroutines or from inside of Backend methods.
type Handler interface {
	OnGPUReady()
	OnPaintRequested()
	OnPresented(id uint64, t PresentTime)
	OnDiscarded(id uint64)
	OnResized()
	OnLost(err error)
}
