package visualize

import (
	"context"

	"go.uber.org/zap"

	"github.com/isdmx/codeviz/config"
	"github.com/isdmx/codeviz/sandbox"
)

// Failure kinds reported to a FailureRecorder
const (
	FailureImage = "image"
	FailureText  = "text"
)

// FailureRecorder is told about every visualization that could not be produced
type FailureRecorder interface {
	VisualizationFailed(kind string)
}

// Input is the raw material a Renderer works from
type Input struct {
	Stdout    string
	Artifacts []sandbox.Artifact
}

// Renderer produces the optional image and text views of a run. Failures are
// logged and counted, never returned.
type Renderer struct {
	logger       *zap.Logger
	recorder     FailureRecorder
	maxTextChars int
}

// New creates a Renderer. recorder may be nil.
func New(logger *zap.Logger, cfg *config.Config, recorder FailureRecorder) *Renderer {
	return &Renderer{
		logger:       logger,
		recorder:     recorder,
		maxTextChars: cfg.Visualization.MaxTextChars,
	}
}

// Render returns the views mode asks for, or nil when mode is none or
// nothing could be rendered. The image and the text are produced
// independently of each other.
func (r *Renderer) Render(ctx context.Context, in Input, mode Mode) *Visualization {
	if !mode.WantsImage() && !mode.WantsText() {
		return nil
	}

	var v Visualization

	if mode.WantsImage() {
		if err := ctx.Err(); err != nil {
			r.fail(FailureImage, err)
		} else if image, name, err := encodeImage(in.Artifacts); err != nil {
			r.fail(FailureImage, err, zap.Int("artifacts", len(in.Artifacts)))
		} else {
			r.logger.Debug("image visualization rendered", zap.String("artifact", name), zap.Int("encoded_len", len(image)))
			v.Image = &image
		}
	}

	if mode.WantsText() {
		if err := ctx.Err(); err != nil {
			r.fail(FailureText, err)
		} else if text, err := formatText(in.Stdout, r.maxTextChars); err != nil {
			r.fail(FailureText, err, zap.Int("stdout_len", len(in.Stdout)))
		} else {
			v.Text = &text
		}
	}

	if v.Empty() {
		return nil
	}
	return &v
}

func (r *Renderer) fail(kind string, err error, fields ...zap.Field) {
	r.logger.Warn("visualization omitted", append(fields, zap.String("kind", kind), zap.Error(err))...)
	if r.recorder != nil {
		r.recorder.VisualizationFailed(kind)
	}
}
