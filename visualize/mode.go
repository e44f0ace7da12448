package visualize

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects which visualizations are rendered for a run
type Mode string

const (
	ModeNone  Mode = "none"
	ModeImage Mode = "image"
	ModeText  Mode = "text"
	ModeBoth  Mode = "both"
)

// ErrUnknownMode is returned by ParseMode for anything but the four modes
var ErrUnknownMode = errors.New("unknown visualization mode")

// ParseMode parses a visualization mode. The empty string means none.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeNone, nil
	case ModeNone, ModeImage, ModeText, ModeBoth:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q, must be one of: none, image, text, both", ErrUnknownMode, s)
	}
}

func (m Mode) WantsImage() bool { return m == ModeImage || m == ModeBoth }

func (m Mode) WantsText() bool { return m == ModeText || m == ModeBoth }

// Visualization holds the rendered views of a run's output. A nil field was
// either not requested or could not be produced.
type Visualization struct {
	Image *string `json:"image,omitempty"`
	Text  *string `json:"text,omitempty"`
}

// Empty reports whether nothing was rendered
func (v *Visualization) Empty() bool {
	return v == nil || (v.Image == nil && v.Text == nil)
}
