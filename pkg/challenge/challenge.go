// Package challenge describes battle challenges and loads them from a TOML catalog.
package challenge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"cssbattle/pkg/markup"
)

// ErrInvalid is returned for challenges that cannot be played.
var ErrInvalid = errors.New("challenge: invalid")

// Difficulty is the level of a challenge.
type Difficulty string

const (
	Easy   Difficulty = "EASY"
	Medium Difficulty = "MEDIUM"
	Hard   Difficulty = "HARD"
)

// ParseDifficulty accepts easy, medium or hard in any case.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToUpper(strings.TrimSpace(s))); d {
	case Easy, Medium, Hard:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown difficulty %q", ErrInvalid, s)
	}
}

// UnmarshalText lets catalogs and JSON payloads use any letter case.
func (d *Difficulty) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = ""
		return nil
	}
	parsed, err := ParseDifficulty(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Challenge is one target to reproduce. JSON names follow the battle backend.
type Challenge struct {
	ID         string     `json:"_id" toml:"id"`
	Title      string     `json:"title,omitempty" toml:"title"`
	Target     string     `json:"image" toml:"target"`
	Difficulty Difficulty `json:"level" toml:"difficulty"`
	Palette    []string   `json:"materials,omitempty" toml:"palette"`
	Reference  *Reference `json:"reference,omitempty" toml:"reference"`
}

// Reference is a known solution used to generate target images.
type Reference struct {
	HTML string `json:"html" toml:"html"`
	CSS  string `json:"css" toml:"css"`
}

// Document returns the reference as a renderable document.
func (r Reference) Document() markup.Document {
	return markup.Document{Markup: r.HTML, Style: r.CSS}
}

// Validate checks that the challenge can be played.
func (c Challenge) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("%w: challenge %s has no target image", ErrInvalid, c.ID)
	}
	if c.Difficulty != "" {
		if _, err := ParseDifficulty(string(c.Difficulty)); err != nil {
			return err
		}
	}
	return nil
}

// NormalizePalette trims and lower-cases colours and drops blanks and
// duplicates, keeping the first occurrence order.
func NormalizePalette(colors []string) []string {
	cleaned := lo.FilterMap(colors, func(c string, _ int) (string, bool) {
		c = strings.ToLower(strings.TrimSpace(c))
		return c, c != ""
	})
	return lo.Uniq(cleaned)
}
