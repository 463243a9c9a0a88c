// Package directives imports the human-written guidance shown to the
// assistant when a pattern is active.
//
// A directive document is markdown. A section starts at a level-2 heading
// whose text is a pattern id, or at an HTML comment marker of the form
// <!-- pattern: some-id -->, and runs until the next marker or the next
// level-1 or level-2 heading.
package directives

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"gitlab.com/golang-commonmark/markdown"

	"github.com/HendryAvila/anastrophex/internal/patterns"
)

// MaxDocumentSize caps the size of a directive document (1MB).
const MaxDocumentSize = 1024 * 1024

var (
	idRe     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	markerRe = regexp.MustCompile(`^<!--\s*pattern:\s*([a-z0-9-]+)\s*-->`)
)

// Document is a parsed directive file: section text keyed by id.
type Document struct {
	Source   string
	Sections map[string]string
	Order    []string
}

type marker struct {
	id    string
	start int // first line of the marker
	body  int // first line of the body
}

// Load reads and parses a directive document.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening directives: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading directives: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("directives %s: file exceeds 1MB", path)
	}
	return Parse(path, data)
}

// Parse splits a markdown document into directive sections.
func Parse(source string, src []byte) (*Document, error) {
	doc := &Document{Source: source, Sections: make(map[string]string)}
	lines := strings.Split(strings.ReplaceAll(string(src), "\r\n", "\n"), "\n")

	md := markdown.New(markdown.HTML(true), markdown.Linkify(false), markdown.Typographer(false))
	tokens := md.Parse(src)

	var (
		markers []marker
		stops   []int // lines where any section must end
	)
	for i, tok := range tokens {
		switch t := tok.(type) {
		case *markdown.HeadingOpen:
			if t.HLevel > 2 {
				continue
			}
			stops = append(stops, t.Map[0])
			if t.HLevel != 2 || i+1 >= len(tokens) {
				continue
			}
			inline, ok := tokens[i+1].(*markdown.Inline)
			if !ok {
				continue
			}
			id := strings.Trim(strings.TrimSpace(inline.Content), "`")
			if idRe.MatchString(id) {
				markers = append(markers, marker{id: id, start: t.Map[0], body: t.Map[1]})
			}
		case *markdown.HTMLBlock:
			m := markerRe.FindStringSubmatch(strings.TrimSpace(t.Content))
			if m == nil {
				continue
			}
			// The marker may share its block with content below it.
			markers = append(markers, marker{id: m[1], start: t.Map[0], body: t.Map[0] + 1})
			stops = append(stops, t.Map[0])
		}
	}

	sort.Ints(stops)
	for _, m := range markers {
		end := len(lines)
		for _, s := range stops {
			if s > m.start {
				end = s
				break
			}
		}
		if _, dup := doc.Sections[m.id]; dup {
			return nil, fmt.Errorf("directives %s: duplicate section %q", source, m.id)
		}
		body := ""
		if m.body < end {
			body = strings.TrimSpace(strings.Join(lines[m.body:end], "\n"))
		}
		doc.Sections[m.id] = body
		doc.Order = append(doc.Order, m.id)
	}
	return doc, nil
}

// Directive is the resolved guidance for one pattern.
type Directive struct {
	PatternID   string `json:"pattern_id"`
	DirectiveID string `json:"directive_id,omitempty"`
	Text        string `json:"text"`
	Origin      string `json:"origin"` // "document" or "inline"
}

// Set maps pattern ids to directives. Immutable once built.
type Set struct {
	byPattern map[string]Directive
	unmatched []string
}

// Resolve picks a directive for every pattern of reg. A document section
// named after the pattern's directive id wins, then one named after the
// pattern id, then the definition's inline text. doc may be nil.
func Resolve(reg *patterns.Registry, doc *Document) *Set {
	s := &Set{byPattern: make(map[string]Directive)}
	used := make(map[string]bool)

	for _, def := range reg.All() {
		d := Directive{PatternID: def.ID, DirectiveID: def.DirectiveID}
		if doc != nil {
			for _, key := range []string{def.DirectiveID, def.ID} {
				if key == "" {
					continue
				}
				if text, ok := doc.Sections[key]; ok && text != "" {
					d.Text, d.Origin = text, "document"
					used[key] = true
					break
				}
			}
		}
		if d.Text == "" && def.Directive != "" {
			d.Text, d.Origin = def.Directive, "inline"
		}
		if d.Text != "" {
			s.byPattern[def.ID] = d
		}
	}

	if doc != nil {
		for _, id := range doc.Order {
			if !used[id] {
				s.unmatched = append(s.unmatched, id)
			}
		}
	}
	return s
}

// Get returns the directive for patternID.
func (s *Set) Get(patternID string) (Directive, bool) {
	d, ok := s.byPattern[patternID]
	return d, ok
}

// All returns every directive ordered by pattern id.
func (s *Set) All() []Directive {
	out := make([]Directive, 0, len(s.byPattern))
	for _, d := range s.byPattern {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternID < out[j].PatternID })
	return out
}

// Unmatched lists document sections no pattern refers to.
func (s *Set) Unmatched() []string {
	return append([]string(nil), s.unmatched...)
}
