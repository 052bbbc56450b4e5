package types

// PairKind distinguishes standalone tags from begin/end block markers.
type PairKind string

// Tag pair kinds.
const (
	PairSingle PairKind = "single"
	PairBegin  PairKind = "begin"
	PairEnd    PairKind = "end"
)

// LineRange is an inclusive 1-based line span.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TagOccurrence is a source comment asserting that Identifier (with its phase
// and instruction qualifiers) is implemented at Lines of FilePath.
type TagOccurrence struct {
	Identifier Identifier `json:"identifier"`
	// TagKind is the kind written in an @fdd-<kind> prefix; empty for
	// begin/end markers, which carry no kind prefix.
	TagKind  Kind      `json:"tag_kind,omitempty"`
	FilePath string    `json:"file_path"`
	Lines    LineRange `json:"lines"`
	Pair     PairKind  `json:"pair"`
	// ContentBefore counts non-blank, non-tag lines between the previous tag
	// in the same file (or the start of the file) and this tag.
	ContentBefore int `json:"content_before"`
}
