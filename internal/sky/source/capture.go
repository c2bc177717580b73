package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/klt"
)

// maxCaptureProbe bounds the search for a free capture file name.
const maxCaptureProbe = 100000

// Capturer writes frames to numbered PGM files, never overwriting one.
type Capturer struct {
	mu   sync.Mutex
	dir  string
	next int
}

// NewCapturer writes into dir, creating it if needed.
func NewCapturer(dir string) (*Capturer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &Capturer{dir: dir}, nil
}

// Dir returns the capture directory.
func (c *Capturer) Dir() string { return c.dir }

// Capture writes img to the first free captureNNNN.pgm and returns its path.
func (c *Capturer) Capture(img klt.Image) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for probe := 0; probe < maxCaptureProbe; probe++ {
		path := filepath.Join(c.dir, fmt.Sprintf("capture%04d.pgm", c.next))
		c.next++
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("capture %s: %w", path, err)
		}
		werr := WritePGM(f, img)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return "", fmt.Errorf("capture %s: %w", path, err)
		}
		monitoring.Logf("[Capture] wrote %s", path)
		return path, nil
	}
	return "", fmt.Errorf("capture: no free file name in %s", c.dir)
}
