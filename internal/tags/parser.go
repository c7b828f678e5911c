// Package tags extracts inline annotations from raw model output.
//
// The grammar is a lightweight, non-nesting lexer: each tag type is matched
// as a paired <name>...</name> span with the shortest possible body.
// Unclosed or malformed tags are not errors; they stay in the visible text.
package tags

import (
	"regexp"
	"sort"
	"strings"
)

// Tag is a captured custom tag.
type Tag struct {
	Name    string            `json:"name"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Content string            `json:"content"`
}

// ParsedReply is the structured form of one model reply.
type ParsedReply struct {
	MainText string   `json:"main_text"`
	Thoughts []string `json:"thoughts"`
	Images   []string `json:"images"`
	// Mood is empty when the reply carried no mood tag.
	Mood string `json:"mood,omitempty"`
	Tags []Tag  `json:"tags,omitempty"`
}

// Placement says what happens to a custom tag's span in the visible text.
type Placement int

const (
	// Remove deletes the whole span.
	Remove Placement = iota
	// Inline replaces the span with its inner text.
	Inline
)

// Spec registers a custom tag with the parser.
type Spec struct {
	Name      string
	Placement Placement
}

// DefaultSpecs are the custom tags understood out of the box.
var DefaultSpecs = []Spec{
	{Name: "code", Placement: Inline},
	{Name: "emotion", Placement: Remove},
	{Name: "memory", Placement: Remove},
}

var (
	thoughtRe = regexp.MustCompile(`(?s)<thought>(.*?)</thought>`)
	imageRe   = regexp.MustCompile(`(?s)<image>(.*?)</image>`)
	moodRe    = regexp.MustCompile(`(?s)<mood>(.*?)</mood>`)
	attrRe    = regexp.MustCompile(`([A-Za-z_][\w-]*)\s*=\s*"([^"]*)"`)
	newlineRe = regexp.MustCompile(`\n{3,}`)
	spaceRe   = regexp.MustCompile(` {3,}`)
)

type customTag struct {
	Spec
	re *regexp.Regexp
}

// Parser extracts thoughts, images, mood and registered custom tags.
type Parser struct {
	custom []customTag
}

// NewParser creates a parser for the given custom tags.
func NewParser(specs ...Spec) *Parser {
	p := &Parser{}
	for _, s := range specs {
		name := regexp.QuoteMeta(s.Name)
		p.custom = append(p.custom, customTag{
			Spec: s,
			re:   regexp.MustCompile(`(?s)<` + name + `((?:\s[^>]*)?)>(.*?)</` + name + `>`),
		})
	}
	return p
}

// Parse runs the fixed extraction order: thoughts are stripped, images are
// replaced by "[Image: <content>]", the first mood is kept and every mood
// span stripped, custom tags are captured, and finally runs of 3+ newlines
// or 3+ spaces collapse to two before trimming.
func (p *Parser) Parse(raw string) ParsedReply {
	out := ParsedReply{Thoughts: []string{}, Images: []string{}}
	text := raw

	for _, m := range thoughtRe.FindAllStringSubmatch(text, -1) {
		out.Thoughts = append(out.Thoughts, m[1])
	}
	text = thoughtRe.ReplaceAllLiteralString(text, "")

	for _, m := range imageRe.FindAllStringSubmatch(text, -1) {
		out.Images = append(out.Images, m[1])
	}
	text = imageRe.ReplaceAllString(text, "[Image: ${1}]")

	if m := moodRe.FindStringSubmatch(text); m != nil {
		out.Mood = m[1]
	}
	text = moodRe.ReplaceAllLiteralString(text, "")

	text, out.Tags = p.extractCustom(text)

	text = newlineRe.ReplaceAllLiteralString(text, "\n\n")
	text = spaceRe.ReplaceAllLiteralString(text, "  ")
	out.MainText = strings.TrimSpace(text)
	return out
}

type located struct {
	pos int
	tag Tag
}

func (p *Parser) extractCustom(text string) (string, []Tag) {
	if len(p.custom) == 0 {
		return text, nil
	}
	var found []located
	for _, c := range p.custom {
		for _, idx := range c.re.FindAllStringSubmatchIndex(text, -1) {
			found = append(found, located{
				pos: idx[0],
				tag: Tag{
					Name:    c.Name,
					Attrs:   parseAttrs(text[idx[2]:idx[3]]),
					Content: text[idx[4]:idx[5]],
				},
			})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	for _, c := range p.custom {
		switch c.Placement {
		case Inline:
			text = c.re.ReplaceAllString(text, "${2}")
		default:
			text = c.re.ReplaceAllLiteralString(text, "")
		}
	}

	if len(found) == 0 {
		return text, nil
	}
	tags := make([]Tag, len(found))
	for i, f := range found {
		tags[i] = f.tag
	}
	return text, tags
}

func parseAttrs(s string) map[string]string {
	matches := attrRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(matches))
	for _, m := range matches {
		attrs[m[1]] = m[2]
	}
	return attrs
}
