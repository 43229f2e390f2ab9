package corpus

import (
	"fmt"
	"strings"

	"github.com/54b3r/profilerag-go/internal/profile"
	"github.com/54b3r/profilerag-go/internal/rag"
)

// Section tags used as the first half of every source id.
const (
	tagProfile    = "profile"
	tagProject    = "project"
	tagExperience = "experience"
	tagEducation  = "education"
	tagFAQ        = "faq"
)

// Entries derives the labeled entries of doc in a fixed order: profile
// summary, headline, achievements, skills, then one entry per project,
// experience, education record, and FAQ. Blank entries are skipped.
// Discriminators are not deduplicated, so two projects with the same name
// share a source id.
func Entries(doc *profile.Document) []rag.Entry {
	if doc == nil {
		return nil
	}

	var out []rag.Entry
	add := func(sourceID string, lines ...string) {
		if text := joinLines(lines...); text != "" {
			out = append(out, rag.Entry{SourceID: sourceID, Text: text})
		}
	}

	if p := doc.Profile; p != nil {
		add(tagProfile+":summary", p.Summary)
		add(tagProfile+":headline", p.Headline)
		add(tagProfile+":achievements", bullets(p.Achievements)...)
		if s := p.Skills; s != nil {
			add(tagProfile+":skills",
				labeled("Hard skills", s.Hard),
				labeled("Soft skills", s.Soft),
				labeled("Languages", s.Languages),
			)
		}
	}

	for i, pr := range doc.Projects {
		add(discriminator(tagProject, pr.Name, i),
			prefixed("Project: ", pr.Name),
			pr.Description,
			labeled("Technologies", pr.Technologies),
			prefixed("URL: ", pr.URL),
		)
	}

	for i, ex := range doc.Experiences {
		head := strings.TrimSpace(ex.Role)
		if c := strings.TrimSpace(ex.Company); c != "" {
			head = strings.TrimSpace(head + " at " + c)
		}
		if meta := joinNonEmpty(", ", ex.Period, ex.Location); meta != "" {
			head = strings.TrimSpace(head + " (" + meta + ")")
		}
		lines := append([]string{head, ex.Description}, bullets(ex.Highlights)...)
		add(discriminator(tagExperience, ex.Company, i), lines...)
	}

	for i, ed := range doc.Education {
		head := strings.TrimSpace(ed.Degree)
		if f := strings.TrimSpace(ed.Field); f != "" {
			head = strings.TrimSpace(head + " in " + f)
		}
		if in := strings.TrimSpace(ed.Institution); in != "" {
			head = joinNonEmpty(", ", head, in)
		}
		if p := strings.TrimSpace(ed.Period); p != "" {
			head = strings.TrimSpace(head + " (" + p + ")")
		}
		add(discriminator(tagEducation, ed.Institution, i), head, ed.Description)
	}

	for i, f := range doc.FAQs {
		add(discriminator(tagFAQ, f.Question, i), prefixed("Q: ", f.Question), prefixed("A: ", f.Answer))
	}

	return out
}

// discriminator builds "<tag>:<name>", falling back to the record position
// when the name is blank.
func discriminator(tag, name string, index int) string {
	if n := strings.TrimSpace(name); n != "" {
		return tag + ":" + n
	}
	return fmt.Sprintf("%s:#%d", tag, index+1)
}

func labeled(label string, items []string) string {
	if s := joinNonEmpty(", ", items...); s != "" {
		return label + ": " + s
	}
	return ""
}

func prefixed(prefix, s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return prefix + s
	}
	return ""
}

func bullets(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, "- "+it)
		}
	}
	return out
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func joinLines(lines ...string) string {
	return joinNonEmpty("\n", lines...)
}
