package eval

import (
	"strings"

	"rivet/internal/observ"
	"rivet/internal/worker"
)

// Outputs is what one evaluation produced: rich content blocks in emission
// order plus per-phase timing. Plain stdout and stderr lines stream through
// the context's callbacks as they arrive and are not collected here.
type Outputs struct {
	Contents []worker.Content
	Timing   observ.Report
}

// Text returns the concatenated text/plain content blocks.
func (o *Outputs) Text() string {
	var b strings.Builder
	for _, c := range o.Contents {
		if c.Mime == "text/plain" {
			b.WriteString(c.Body)
		}
	}
	return b.String()
}

// Content returns the last content block for the given MIME type, if any.
func (o *Outputs) Content(mime string) (string, bool) {
	for i := len(o.Contents) - 1; i >= 0; i-- {
		if o.Contents[i].Mime == mime {
			return o.Contents[i].Body, true
		}
	}
	return "", false
}
