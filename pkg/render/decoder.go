// Package render drives the external decoder for one open document: it turns
// a fast stream of edit states into lowest, low and full quality previews,
// publishes them without ever going back in version, and debounces
// persistence of the edit state.
package render

import "fmt"

// Quality is a decoder render tier.
type Quality int

const (
	Lowest Quality = iota
	Low
	Full
)

func (q Quality) String() string {
	switch q {
	case Lowest:
		return "lowest"
	case Low:
		return "low"
	case Full:
		return "full"
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// Handle identifies an open decoder session.
type Handle uint64

// Decoder is the native RAW pipeline. Preview calls return an encoded image
// (JPEG or PNG). Calls for one handle are never issued concurrently.
type Decoder interface {
	CreateSession(raw []byte) (Handle, error)
	ReleaseSession(h Handle)
	RenderPreview(h Handle, adjustments string, q Quality) ([]byte, error)
	RenderFullRes(h Handle, adjustments string) ([]byte, error)
	// Metadata returns a JSON object describing the source file.
	Metadata(h Handle) (string, error)
}
