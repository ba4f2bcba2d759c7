package game

import (
	"context"
	"errors"
	"sync"
)

// Scene is the renderer-neutral description of what a game shows.
type Scene map[string]any

// Frame is one drawn image of a game instance.
type Frame struct {
	GameID string `json:"gameId"`
	Seq    uint64 `json:"seq"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Phase  Phase  `json:"phase"`
	Theme  string `json:"theme,omitempty"`
	Scene  Scene  `json:"scene"`
}

// Surface is the container a game mounts its canvas on.
type Surface interface {
	Mount(gameID string, width, height int) (Canvas, error)
}

// Canvas receives frames until closed.
type Canvas interface {
	Resize(width, height int)
	Size() (width, height int)
	Draw(f Frame) error
	Close() error
}

// AssetLoader reads files shipped next to a game's manifest.
// manifest.DirSource and manifest.HTTPSource satisfy it.
type AssetLoader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

var errCanvasClosed = errors.New("game: canvas closed")

// MemorySurface keeps drawn frames in memory. It backs headless sessions
// and tests.
type MemorySurface struct {
	mu       sync.Mutex
	canvases []*MemoryCanvas
	// FailMount makes the next Mount fail.
	FailMount error
}

func NewMemorySurface() *MemorySurface { return &MemorySurface{} }

func (s *MemorySurface) Mount(gameID string, width, height int) (Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailMount != nil {
		err := s.FailMount
		s.FailMount = nil
		return nil, err
	}
	c := &MemoryCanvas{gameID: gameID, width: width, height: height}
	s.canvases = append(s.canvases, c)
	return c, nil
}

// Canvases returns every canvas mounted so far.
func (s *MemorySurface) Canvases() []*MemoryCanvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MemoryCanvas(nil), s.canvases...)
}

// MemoryCanvas records the latest frame and a draw count.
type MemoryCanvas struct {
	mu     sync.Mutex
	gameID string
	width  int
	height int
	frames uint64
	last   Frame
	closed bool
}

func (c *MemoryCanvas) Resize(width, height int) {
	c.mu.Lock()
	c.width, c.height = width, height
	c.mu.Unlock()
}

func (c *MemoryCanvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

func (c *MemoryCanvas) Draw(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errCanvasClosed
	}
	c.frames++
	c.last = f
	return nil
}

func (c *MemoryCanvas) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Frames returns how many frames were drawn.
func (c *MemoryCanvas) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Last returns the most recent frame.
func (c *MemoryCanvas) Last() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *MemoryCanvas) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
