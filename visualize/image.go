package visualize

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/isdmx/codeviz/sandbox"
)

// ErrNoImage is returned when the run left no image in its output directory
var ErrNoImage = errors.New("no image artifact produced")

// encodeImage returns the first artifact whose content sniffs as an image,
// encoded as a data URI. Artifacts are expected in name order.
func encodeImage(artifacts []sandbox.Artifact) (string, string, error) {
	for _, artifact := range artifacts {
		if len(artifact.Data) == 0 {
			continue
		}

		mediaType, _, _ := strings.Cut(mimetype.Detect(artifact.Data).String(), ";")
		if !strings.HasPrefix(mediaType, "image/") {
			continue
		}

		return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(artifact.Data), artifact.Name, nil
	}
	return "", "", ErrNoImage
}
