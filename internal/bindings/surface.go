package bindings

import (
	"context"
	"errors"
	"sync"

	"github.com/MJE43/minigame-playground/internal/game"
)

// EventFrame carries every drawn frame to the webview.
const EventFrame = "game:frame"

var errCanvasClosed = errors.New("bindings: canvas closed")

// webviewSurface mounts canvases whose frames are emitted to the frontend.
type webviewSurface struct {
	host *GameHost
}

func (s webviewSurface) Mount(gameID string, width, height int) (game.Canvas, error) {
	if s.host.context() == nil {
		return nil, errNotStarted
	}
	return &webviewCanvas{host: s.host, gameID: gameID, width: width, height: height}, nil
}

type webviewCanvas struct {
	host   *GameHost
	gameID string

	mu     sync.Mutex
	width  int
	height int
	closed bool
}

func (c *webviewCanvas) Resize(width, height int) {
	c.mu.Lock()
	c.width, c.height = width, height
	c.mu.Unlock()
}

func (c *webviewCanvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

func (c *webviewCanvas) Draw(f game.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errCanvasClosed
	}
	c.host.emit(EventFrame, f)
	return nil
}

func (c *webviewCanvas) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// compile-time check
var _ game.Surface = webviewSurface{}

// Emitter pushes a named event to the frontend.
type Emitter func(ctx context.Context, name string, data ...any)
