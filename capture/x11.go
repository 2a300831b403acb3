package capture

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// Grabber captures the root window of one X11 display. The compositor runs
// on a dedicated display, so the connection is explicit rather than taken
// from the environment.
//
// Safe for concurrent use; the underlying connection is serialized.
type Grabber struct {
	display string

	mu   sync.Mutex
	conn *xgb.Conn
}

// NewGrabber creates a grabber for the given display (e.g. ":10.0"). The
// connection is established lazily on first use.
func NewGrabber(display string) *Grabber {
	return &Grabber{display: display}
}

// Close drops the X11 connection. The grabber reconnects on next use.
func (g *Grabber) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
}

func (g *Grabber) connect() (*xgb.Conn, error) {
	if g.conn != nil {
		return g.conn, nil
	}
	conn, err := xgb.NewConnDisplay(g.display)
	if err != nil {
		return nil, fmt.Errorf("connect display %s: %w", g.display, err)
	}
	g.conn = conn
	return conn, nil
}

// CaptureRoot grabs the full root window of the display as a frame.
func (g *Grabber) CaptureRoot() (*Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	conn, err := g.connect()
	if err != nil {
		return nil, err
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	w := int(screen.WidthInPixels)
	h := int(screen.HeightInPixels)

	reply, err := xproto.GetImage(conn, xproto.ImageFormatZPixmap,
		xproto.Drawable(screen.Root), 0, 0, uint16(w), uint16(h), 0xffffffff).Reply()
	if err != nil {
		// Drop the connection; a dead compositor leaves it unusable.
		g.conn.Close()
		g.conn = nil
		return nil, fmt.Errorf("get image: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	data := reply.Data
	// ZPixmap at depth 24/32 is BGRX, 4 bytes per pixel.
	for i := 0; i+3 < len(data) && i < len(img.Pix); i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return NewFrame(img, time.Now()), nil
}

// FindWindow walks the window tree looking for a window whose WM_NAME
// contains titleSubstr and returns its root-relative bounds. found is false
// when no such window exists.
func (g *Grabber) FindWindow(titleSubstr string) (bounds image.Rectangle, found bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	conn, err := g.connect()
	if err != nil {
		return image.Rectangle{}, false, err
	}
	root := xproto.Setup(conn).DefaultScreen(conn).Root

	win, ok, err := g.findByTitle(conn, root, titleSubstr, 2)
	if err != nil || !ok {
		return image.Rectangle{}, false, err
	}

	geo, err := xproto.GetGeometry(conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("get geometry: %w", err)
	}
	trans, err := xproto.TranslateCoordinates(conn, win, root, 0, 0).Reply()
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("translate coordinates: %w", err)
	}
	x, y := int(trans.DstX), int(trans.DstY)
	return image.Rect(x, y, x+int(geo.Width), y+int(geo.Height)), true, nil
}

// findByTitle searches win's subtree up to depth levels deep.
func (g *Grabber) findByTitle(conn *xgb.Conn, win xproto.Window, titleSubstr string, depth int) (xproto.Window, bool, error) {
	tree, err := xproto.QueryTree(conn, win).Reply()
	if err != nil {
		return 0, false, fmt.Errorf("query tree: %w", err)
	}
	for _, child := range tree.Children {
		name, err := xproto.GetProperty(conn, false, child, xproto.AtomWmName,
			xproto.AtomString, 0, 64).Reply()
		if err == nil && name != nil && strings.Contains(string(name.Value), titleSubstr) {
			return child, true, nil
		}
		if depth > 1 {
			if found, ok, err := g.findByTitle(conn, child, titleSubstr, depth-1); err == nil && ok {
				return found, true, nil
			}
		}
	}
	return 0, false, nil
}
