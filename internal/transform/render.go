package transform

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

const ArtifactContentType = "text/markdown; charset=utf-8"

// Artifact is the derived document handed back to the submitter.
type Artifact struct {
	Title       string
	Profile     string
	SourceName  string
	Checksum    string
	GeneratedAt time.Time
	Sections    []string
}

// Render produces the Markdown artifact. Sections keep chunk order.
func Render(a Artifact) []byte {
	var b bytes.Buffer
	title := strings.TrimSpace(a.Title)
	if title == "" {
		title = a.SourceName
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_Source: %s | profile: %s | sha256: %s | generated: %s_\n",
		a.SourceName, a.Profile, a.Checksum, a.GeneratedAt.UTC().Format(time.RFC3339))

	for i, s := range a.Sections {
		if len(a.Sections) > 1 {
			fmt.Fprintf(&b, "\n## Part %d\n", i+1)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s))
		b.WriteString("\n")
	}
	return b.Bytes()
}
