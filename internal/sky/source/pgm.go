package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/banshee-data/starfield/internal/sky/klt"
	"github.com/banshee-data/starfield/internal/timeutil"
)

// ErrNotPGM is returned for input that is not a binary 8-bit PGM.
var ErrNotPGM = errors.New("not a binary 8-bit PGM")

// ReadPGM decodes a binary (P5) greymap with maxval 255.
func ReadPGM(r io.Reader) (klt.Image, error) {
	br := bufio.NewReader(r)
	magic, err := pgmToken(br)
	if err != nil {
		return klt.Image{}, fmt.Errorf("read PGM header: %w", err)
	}
	if magic != "P5" {
		return klt.Image{}, fmt.Errorf("%w: magic %q", ErrNotPGM, magic)
	}

	var dims [3]int
	for i := range dims {
		tok, err := pgmToken(br)
		if err != nil {
			return klt.Image{}, fmt.Errorf("read PGM header: %w", err)
		}
		n, err := strconv.Atoi(tok)
		if err != nil || n <= 0 {
			return klt.Image{}, fmt.Errorf("%w: bad header field %q", ErrNotPGM, tok)
		}
		dims[i] = n
	}
	if dims[2] != 255 {
		return klt.Image{}, fmt.Errorf("%w: maxval %d", ErrNotPGM, dims[2])
	}

	img := klt.NewImage(dims[0], dims[1])
	if _, err := io.ReadFull(br, img.Pix); err != nil {
		return klt.Image{}, fmt.Errorf("read PGM pixels: %w", err)
	}
	return img, nil
}

// pgmToken reads one whitespace-delimited header token, skipping
// comments. It consumes the single whitespace byte that ends the token.
func pgmToken(br *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return "", err
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := br.ReadString('\n'); err != nil {
				return "", err
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, c)
		}
	}
}

// WritePGM encodes img as a binary (P5) greymap.
func WritePGM(w io.Writer, img klt.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "P5\n%d %d 255\n", img.Width, img.Height); err != nil {
		return fmt.Errorf("write PGM header: %w", err)
	}
	if _, err := w.Write(img.Pix); err != nil {
		return fmt.Errorf("write PGM pixels: %w", err)
	}
	return nil
}

// LoadPGM reads a PGM file.
func LoadPGM(path string) (klt.Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return klt.Image{}, err
	}
	defer f.Close()
	img, err := ReadPGM(f)
	if err != nil {
		return klt.Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// PGMSequence plays the *.pgm files of a directory in name order.
type PGMSequence struct {
	files []string
	loop  bool
	clock timeutil.Clock
	pos   int
	index int64
}

// NewPGMSequence lists dir. With loop set the sequence restarts after the
// last file instead of returning io.EOF.
func NewPGMSequence(dir string, loop bool, clock timeutil.Clock) (*PGMSequence, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.pgm"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .pgm files in %s", dir)
	}
	sort.Strings(files)
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PGMSequence{files: files, loop: loop, clock: clock}, nil
}

// FrameSize reads the dimensions of the first file. Every file in the
// sequence is expected to share them.
func (s *PGMSequence) FrameSize() (width, height int, err error) {
	img, err := LoadPGM(s.files[0])
	if err != nil {
		return 0, 0, err
	}
	return img.Width, img.Height, nil
}

// Len returns the number of files in one pass.
func (s *PGMSequence) Len() int { return len(s.files) }

// Next loads the next file.
func (s *PGMSequence) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.files) {
		if !s.loop {
			return nil, io.EOF
		}
		s.pos = 0
	}
	img, err := LoadPGM(s.files[s.pos])
	if err != nil {
		return nil, err
	}
	s.pos++
	f := &Frame{Index: s.index, Image: img, Timestamp: s.clock.Now()}
	s.index++
	return f, nil
}

// Close is a no-op; files are opened per frame.
func (s *PGMSequence) Close() error { return nil }
