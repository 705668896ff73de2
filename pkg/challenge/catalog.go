package challenge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

// Catalog is an ordered set of challenges read from a TOML file:
//
//	[[challenge]]
//	id = "c1"
//	target = "targets/c1.png"
//	difficulty = "easy"
//	palette = ["#dd6b4d", "#fff"]
//	[challenge.reference]
//	html = "<div></div>"
//	css = "div{...}"
type Catalog struct {
	Challenges []Challenge `toml:"challenge"`

	dir string
}

// LoadCatalog reads a catalog file. Relative target paths are resolved
// against the directory of path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data, filepath.Dir(path))
}

// ParseCatalog decodes catalog data, resolving relative targets against dir.
func ParseCatalog(data []byte, dir string) (*Catalog, error) {
	var c Catalog
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	c.dir = dir

	seen := make(map[string]bool, len(c.Challenges))
	for i := range c.Challenges {
		ch := &c.Challenges[i]
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i+1, err)
		}
		if seen[ch.ID] {
			return nil, fmt.Errorf("catalog entry %d: %w: duplicate id %s", i+1, ErrInvalid, ch.ID)
		}
		seen[ch.ID] = true
		if ch.Difficulty == "" {
			ch.Difficulty = Easy
		}
		ch.Palette = NormalizePalette(ch.Palette)
		ch.Target = resolveTarget(dir, ch.Target)
	}
	return &c, nil
}

func resolveTarget(dir, target string) string {
	switch {
	case dir == "",
		filepath.IsAbs(target),
		strings.HasPrefix(target, "data:"),
		strings.HasPrefix(target, "file://"),
		strings.HasPrefix(target, "http://"),
		strings.HasPrefix(target, "https://"):
		return target
	default:
		return filepath.Join(dir, target)
	}
}

// Dir returns the directory relative targets were resolved against.
func (c *Catalog) Dir() string {
	return c.dir
}

// Get returns the challenge with the given id.
func (c *Catalog) Get(id string) (Challenge, bool) {
	return lo.Find(c.Challenges, func(ch Challenge) bool { return ch.ID == id })
}

// IDs returns challenge ids in catalog order.
func (c *Catalog) IDs() []string {
	return lo.Map(c.Challenges, func(ch Challenge, _ int) string { return ch.ID })
}

// ByDifficulty returns the challenges of one level in catalog order.
func (c *Catalog) ByDifficulty(d Difficulty) []Challenge {
	return lo.Filter(c.Challenges, func(ch Challenge, _ int) bool { return ch.Difficulty == d })
}
