package graph

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ContentVersion is the document version written by this package.
const ContentVersion = 1

// Atom is a lexical span of a paragraph's text, in bytes.
type Atom struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Paragraph is one block of story text and its atoms.
type Paragraph struct {
	Text  string `json:"text"`
	Atoms []Atom `json:"atoms"`
}

// Content is the body of a node. The graph only counts paragraphs; it never
// interprets the text.
type Content struct {
	Paragraphs []Paragraph `json:"paragraphs"`
}

// Len returns the number of paragraphs.
func (c Content) Len() int { return len(c.Paragraphs) }

var atomPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// NewContent builds content from plain text: one paragraph per non-blank
// line, with each word of the line as an atom.
func NewContent(text string) Content {
	c := Content{Paragraphs: []Paragraph{}}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p := Paragraph{Text: line, Atoms: []Atom{}}
		for _, loc := range atomPattern.FindAllStringIndex(line, -1) {
			p.Atoms = append(p.Atoms, Atom{Start: loc[0], Length: loc[1] - loc[0]})
		}
		c.Paragraphs = append(c.Paragraphs, p)
	}
	return c
}

// Text joins the paragraphs back into plain text.
func (c Content) Text() string {
	lines := make([]string, len(c.Paragraphs))
	for i, p := range c.Paragraphs {
		lines[i] = p.Text
	}
	return strings.Join(lines, "\n")
}

type contentDocument struct {
	Version    int         `json:"version"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

func encodeContent(c Content) (string, error) {
	paragraphs := c.Paragraphs
	if paragraphs == nil {
		paragraphs = []Paragraph{}
	}
	data, err := json.Marshal(contentDocument{Version: ContentVersion, Paragraphs: paragraphs})
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return string(data), nil
}

func decodeContent(data string) (Content, error) {
	var doc contentDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return Content{}, fmt.Errorf("decode content: %w", err)
	}
	if doc.Version != ContentVersion {
		return Content{}, fmt.Errorf("decode content: unsupported version %d", doc.Version)
	}
	if doc.Paragraphs == nil {
		doc.Paragraphs = []Paragraph{}
	}
	return Content{Paragraphs: doc.Paragraphs}, nil
}
