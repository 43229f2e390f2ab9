// Package profile reads the structured profile document the corpus is built
// from. Field-name variants ("Education", "work_experience", "desc", ...)
// are mapped onto one canonical shape by a declarative alias table applied
// once at load time, then the canonical form is validated against a JSON
// schema before it is decoded into typed records.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidDocument is returned when the source document cannot be read,
// is not valid JSON, or does not match the expected shape.
var ErrInvalidDocument = errors.New("profile: invalid source document")

// Document is the canonical, normalised profile document. Every section is
// optional.
type Document struct {
	Profile     *Profile     `json:"profile,omitempty"`
	Projects    []Project    `json:"projects,omitempty"`
	Experiences []Experience `json:"experiences,omitempty"`
	Education   []Education  `json:"education,omitempty"`
	FAQs        []FAQ        `json:"faqs,omitempty"`
}

// Profile holds the person-level facts.
type Profile struct {
	Name         string   `json:"name,omitempty"`
	Headline     string   `json:"headline,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Achievements []string `json:"achievements,omitempty"`
	Skills       *Skills  `json:"skills,omitempty"`
}

// Skills groups skill lists by kind.
type Skills struct {
	Hard      []string `json:"hard,omitempty"`
	Soft      []string `json:"soft,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Project is one portfolio project.
type Project struct {
	Name         string   `json:"name,omitempty"`
	Description  string   `json:"description,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	URL          string   `json:"url,omitempty"`
}

// Experience is one employment record.
type Experience struct {
	Company     string   `json:"company,omitempty"`
	Role        string   `json:"role,omitempty"`
	Period      string   `json:"period,omitempty"`
	Location    string   `json:"location,omitempty"`
	Description string   `json:"description,omitempty"`
	Highlights  []string `json:"highlights,omitempty"`
}

// Education is one education record.
type Education struct {
	Institution string `json:"institution,omitempty"`
	Degree      string `json:"degree,omitempty"`
	Field       string `json:"field,omitempty"`
	Period      string `json:"period,omitempty"`
	Description string `json:"description,omitempty"`
}

// FAQ is a prepared question/answer pair.
type FAQ struct {
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// Parse normalises, validates, and decodes a raw JSON profile document.
// Unknown fields are ignored.
func Parse(data []byte) (*Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	root, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level must be a JSON object", ErrInvalidDocument)
	}

	canonical := normalize(root, scopeRoot)
	if err := validate(canonical); err != nil {
		return nil, err
	}

	// Round-trip through JSON so the typed decode only ever sees canonical keys.
	buf, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	var doc Document
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return &doc, nil
}

// FileSource loads the profile document from a JSON file on every call, so a
// forced rebuild picks up edits made since startup.
type FileSource struct {
	// Path is the location of the JSON document.
	Path string
}

// Load reads and parses the document at s.Path.
func (s *FileSource) Load(_ context.Context) (*Document, error) {
	if s.Path == "" {
		return nil, fmt.Errorf("%w: no document path configured", ErrInvalidDocument)
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidDocument, s.Path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return doc, nil
}
