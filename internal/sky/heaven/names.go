package heaven

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

//go:embed names.txt
var defaultNames string

// NameList is the pool constellation names are drawn from.
type NameList struct {
	names []string
}

// DefaultNames returns the built-in list of the 88 modern constellations.
func DefaultNames() *NameList {
	nl, err := ParseNames(strings.NewReader(defaultNames))
	if err != nil {
		panic(fmt.Sprintf("heaven: embedded names: %v", err))
	}
	return nl
}

// ParseNames reads one name per line. Blank lines are skipped and
// surrounding whitespace is trimmed. An empty input yields a list holding
// the single empty name.
func ParseNames(r io.Reader) (*NameList, error) {
	var names []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read names: %w", err)
	}
	if len(names) == 0 {
		names = []string{""}
	}
	return &NameList{names: names}, nil
}

// LoadNames reads a name list from a file.
func LoadNames(path string) (*NameList, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open names file: %w", err)
	}
	defer f.Close()
	return ParseNames(f)
}

// Len returns the number of distinct base names.
func (nl *NameList) Len() int { return len(nl.names) }

// Names returns a copy of the base names.
func (nl *NameList) Names() []string {
	return append([]string(nil), nl.names...)
}

// Draw picks a name for which inUse returns false. Random draws are tried
// first; once every base name is taken it falls back to numbered variants
// ("Lyra 2", "Lyra 3", ...), so it always returns.
func (nl *NameList) Draw(r *rand.Rand, inUse func(string) bool) string {
	n := len(nl.names)
	for i := 0; i < 2*n; i++ {
		name := nl.names[r.IntN(n)]
		if !inUse(name) {
			return name
		}
	}

	start := r.IntN(n)
	for i := 0; i < n; i++ {
		name := nl.names[(start+i)%n]
		if !inUse(name) {
			return name
		}
	}
	for k := 2; ; k++ {
		for i := 0; i < n; i++ {
			name := strings.TrimSpace(fmt.Sprintf("%s %d", nl.names[(start+i)%n], k))
			if !inUse(name) {
				return name
			}
		}
	}
}
