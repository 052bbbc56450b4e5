package trace

import (
	"bufio"
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Tag syntax inside any comment style:
//
//	@fdd-<kind>:<identifier>
//	fdd-begin <identifier>
//	fdd-end <identifier>
var (
	singleTagPattern = regexp.MustCompile(`@fdd-([A-Za-z0-9_]+):([A-Za-z0-9_.:\-]+)`)
	blockTagPattern  = regexp.MustCompile(`(?:^|[^\w@-])fdd-(begin|end)\s+([A-Za-z0-9_.:\-]+)`)
)

// Scan finds tag occurrences in one file. Malformed tags are reported as
// parse-category violations and scanning continues with the next tag.
func Scan(path, content string) ([]types.TagOccurrence, []types.Violation) {
	var (
		occs    []types.TagOccurrence
		bad     []types.Violation
		pending int // content lines since the previous tag
	)
	malformed := func(line int, token string, err error) {
		v := types.Violation{
			Kind:    types.KindMalformedTag,
			Subject: token,
			Path:    path,
			Line:    line,
			Message: fmt.Sprintf("malformed tag %q: %v", token, err),
		}
		v.Category = v.Kind.Category()
		bad = append(bad, v)
	}

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()

		type hit struct {
			at   int
			pair types.PairKind
			kind string
			text string
		}
		var hits []hit
		for _, m := range blockTagPattern.FindAllStringSubmatchIndex(line, -1) {
			hits = append(hits, hit{at: m[2], pair: types.PairKind(line[m[2]:m[3]]), text: line[m[4]:m[5]]})
		}
		for _, m := range singleTagPattern.FindAllStringSubmatchIndex(line, -1) {
			hits = append(hits, hit{at: m[0], pair: types.PairSingle, kind: line[m[2]:m[3]], text: line[m[4]:m[5]]})
		}
		if len(hits) == 0 {
			if strings.TrimSpace(line) != "" {
				pending++
			}
			continue
		}
		slices.SortFunc(hits, func(a, b hit) int { return cmp.Compare(a.at, b.at) })

		for _, h := range hits {
			// Sentence punctuation after a tag is not part of it.
			h.text = strings.TrimRight(h.text, ".:-")
			id, err := types.ParseIdentifier(h.text)
			if err != nil {
				malformed(lineNo, h.text, err)
				continue
			}
			occ := types.TagOccurrence{
				Identifier:    id,
				FilePath:      path,
				Lines:         types.LineRange{Start: lineNo, End: lineNo},
				Pair:          h.pair,
				ContentBefore: pending,
			}
			if h.pair == types.PairSingle {
				k := types.Kind(h.kind)
				if !types.ValidKind(k) {
					malformed(lineNo, "@fdd-"+h.kind, types.ErrUnknownKind)
					continue
				}
				occ.TagKind = k
			}
			occs = append(occs, occ)
			pending = 0
		}
	}
	if err := sc.Err(); err != nil {
		v := types.Violation{
			Kind:    types.KindMalformedTag,
			Subject: path,
			Path:    path,
			Line:    lineNo,
			Message: fmt.Sprintf("read: %v", err),
		}
		v.Category = v.Kind.Category()
		bad = append(bad, v)
	}
	return occs, bad
}
