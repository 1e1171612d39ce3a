package models

// SourceTag identifies the content source an item was collected from
type SourceTag string

const (
	SourceGitHub SourceTag = "github"
	SourceHabr   SourceTag = "habr"
)

// Valid reports whether the tag names a known source
func (s SourceTag) Valid() bool {
	switch s {
	case SourceGitHub, SourceHabr:
		return true
	}
	return false
}

func (s SourceTag) String() string {
	return string(s)
}

// ContentItem is a source-agnostic unit of content produced by a collector
type ContentItem struct {
	Identifier  string    `json:"identifier"` // canonical URL
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      SourceTag `json:"source"`
}

// FormattedPost is a rewritten item ready for the sink. It is never persisted.
type FormattedPost struct {
	Title      string    `json:"title"`
	Body       string    `json:"body"` // platform-escaped text
	Identifier string    `json:"identifier"`
	Source     SourceTag `json:"source"`
	Fallback   bool      `json:"fallback"`
}
