// framebuffer.go - memory-mapped scanout region plus the host-side window
// that displays it (spec.md §4.7/C2, expanded in SPEC_FULL.md §4.11).
//
// Grounded on the teacher's video_backend_ebiten.go (EbitenOutput): a
// mutex-guarded frame buffer, an ebiten.Game implementation started in its
// own goroutine, and a vsync channel signalling that the first Draw call has
// happened before Start returns. The control registers (width/height/enable)
// are new - the teacher's video chip is configured by its own CPU core, but
// here the guest program picks the mode by writing fbControlBase.

package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/image/draw"
)

// Framebuffer owns the MMIO-mapped scanout region (fbPhysBase in main
// memory) and the control registers that pick its mode. The guest writes
// raw RGBA8888 pixels to fbPhysBase and flips fbEnable to push a frame.
type Framebuffer struct {
	mu     sync.Mutex
	mem    *Memory
	width  int
	height int
	enable uint32

	pngDir   string
	pngCount uint64

	win *fbWindow
}

// NewFramebuffer defaults to the 640x480 mode original_source's emulator
// uses when no -f flag is given. pngDir, when non-empty, makes every
// refresh dump a PNG snapshot (SPEC_FULL.md §4.11's -x flag); it is created
// if missing.
func NewFramebuffer(mem *Memory, width, height int, pngDir string) *Framebuffer {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &Framebuffer{mem: mem, width: width, height: height, pngDir: pngDir}
}

func (f *Framebuffer) HandleRead(addr uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch addr - fbControlBase {
	case fbModeWidth:
		return uint32(f.width)
	case fbModeHeight:
		return uint32(f.height)
	case fbEnable:
		return f.enable
	default:
		return 0
	}
}

func (f *Framebuffer) HandleWrite(addr uint32, v uint32) {
	f.mu.Lock()
	switch addr - fbControlBase {
	case fbModeWidth:
		f.width = int(v)
	case fbModeHeight:
		f.height = int(v)
	case fbEnable:
		f.enable = v
	}
	enabled := f.enable != 0
	width, height := f.width, f.height
	f.mu.Unlock()

	if addr-fbControlBase == fbEnable && enabled {
		f.present(width, height)
	}
}

// present copies the current scanout region out of main memory and hands it
// to the open window (if any) and to the PNG dumper (if enabled).
func (f *Framebuffer) present(width, height int) {
	n := width * height * 4
	buf, ok := f.mem.ReadBlock(fbPhysBase, n)
	if !ok {
		return
	}

	if f.win != nil {
		f.win.updateFrame(buf, width, height)
	}

	if f.pngDir != "" {
		f.dumpPNG(buf, width, height)
	}
}

func (f *Framebuffer) dumpPNG(buf []byte, width, height int) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, buf)

	f.mu.Lock()
	f.pngCount++
	n := f.pngCount
	f.mu.Unlock()

	if err := os.MkdirAll(f.pngDir, 0755); err != nil {
		return
	}
	path := filepath.Join(f.pngDir, fmt.Sprintf("frame%06d.png", n))
	out, err := os.Create(path)
	if err != nil {
		return
	}
	defer out.Close()
	_ = png.Encode(out, img)
}

// OpenWindow starts the host display; it mirrors video_backend_ebiten.go's
// Start, running ebiten.RunGame on its own goroutine and blocking until the
// first Draw call so the caller knows the window is live.
func (f *Framebuffer) OpenWindow(scale int) error {
	if scale <= 0 {
		scale = 1
	}
	win := &fbWindow{
		width:    f.width,
		height:   f.height,
		scale:    scale,
		vsync:    make(chan struct{}, 1),
		raw:      make([]byte, f.width*f.height*4),
		scaled:   image.NewRGBA(image.Rect(0, 0, f.width*scale, f.height*scale)),
	}
	f.mu.Lock()
	f.win = win
	f.mu.Unlock()

	ebiten.SetWindowSize(f.width*scale, f.height*scale)
	ebiten.SetWindowTitle("nyuzigo emulator")
	ebiten.SetWindowResizable(true)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetVsyncEnabled(true)

	go func() {
		if err := ebiten.RunGame(win); err != nil {
			fmt.Fprintf(os.Stderr, "framebuffer: ebiten exited: %v\n", err)
		}
	}()

	<-win.vsync
	return nil
}

// fbWindow implements ebiten.Game. It holds the most recent raw frame and
// a pre-scaled RGBA buffer refreshed with golang.org/x/image/draw's
// bilinear interpolator whenever a new frame arrives.
type fbWindow struct {
	mu     sync.RWMutex
	width  int
	height int
	scale  int

	raw       []byte
	dirty     bool
	scaled    *image.RGBA
	firstDraw bool
	vsync     chan struct{}

	ebitenImg *ebiten.Image
}

func (w *fbWindow) updateFrame(buf []byte, width, height int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if width != w.width || height != w.height {
		// Mode changed underneath us; resize the raw buffer to match.
		w.width, w.height = width, height
		w.raw = make([]byte, width*height*4)
	}
	copy(w.raw, buf)
	w.dirty = true
}

// ScaledSnapshot returns a bilinear-scaled copy of the most recent frame at
// the window's configured scale, without touching ebiten state.
func (w *fbWindow) ScaledSnapshot() *image.RGBA {
	w.mu.RLock()
	defer w.mu.RUnlock()
	src := image.NewRGBA(image.Rect(0, 0, w.width, w.height))
	copy(src.Pix, w.raw)

	dst := image.NewRGBA(image.Rect(0, 0, w.width*w.scale, w.height*w.scale))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

func (w *fbWindow) Update() error {
	return nil
}

func (w *fbWindow) Draw(screen *ebiten.Image) {
	w.mu.Lock()
	if w.dirty {
		src := image.NewRGBA(image.Rect(0, 0, w.width, w.height))
		copy(src.Pix, w.raw)
		draw.BiLinear.Scale(w.scaled, w.scaled.Bounds(), src, src.Bounds(), draw.Over, nil)
		w.dirty = false
	}
	img := ebiten.NewImageFromImage(w.scaled)
	first := !w.firstDraw
	w.firstDraw = true
	w.mu.Unlock()

	screen.DrawImage(img, nil)

	if first {
		select {
		case w.vsync <- struct{}{}:
		default:
		}
	}
}

func (w *fbWindow) Layout(outsideWidth, outsideHeight int) (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.width * w.scale, w.height * w.scale
}
