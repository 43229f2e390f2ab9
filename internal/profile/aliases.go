package profile

import (
	"sort"
	"strings"
)

// Scope names for the alias table.
const (
	scopeRoot       = "root"
	scopeProfile    = "profile"
	scopeSkills     = "skills"
	scopeProject    = "project"
	scopeExperience = "experience"
	scopeEducation  = "education"
	scopeFAQ        = "faq"
)

// scope describes how the keys of one JSON object are canonicalised.
type scope struct {
	// keys maps a folded alias to its canonical key.
	keys map[string]string
	// children maps a canonical key to the scope of its object (or
	// array-of-objects) value.
	children map[string]string
	// lists names canonical keys whose value is a list of strings; a bare
	// string is promoted to a one-element list.
	lists map[string]bool
}

// scopes is the declarative alias → canonical table. Aliases are compared
// after folding (lower case, separators removed), so "Education",
// "work_experience", and "Work Experience" each need a single entry.
var scopes = map[string]scope{
	scopeRoot: {
		keys: map[string]string{
			"profile":        "profile",
			"about":          "profile",
			"person":         "profile",
			"projects":       "projects",
			"project":        "projects",
			"portfolio":      "projects",
			"experiences":    "experiences",
			"experience":     "experiences",
			"workexperience": "experiences",
			"work":           "experiences",
			"jobs":           "experiences",
			"education":      "education",
			"educations":     "education",
			"faqs":           "faqs",
			"faq":            "faqs",
		},
		children: map[string]string{
			"profile":     scopeProfile,
			"projects":    scopeProject,
			"experiences": scopeExperience,
			"education":   scopeEducation,
			"faqs":        scopeFAQ,
		},
	},
	scopeProfile: {
		keys: map[string]string{
			"name":            "name",
			"fullname":        "name",
			"headline":        "headline",
			"title":           "headline",
			"tagline":         "headline",
			"summary":         "summary",
			"bio":             "summary",
			"about":           "summary",
			"achievements":    "achievements",
			"accomplishments": "achievements",
			"awards":          "achievements",
			"skills":          "skills",
		},
		children: map[string]string{"skills": scopeSkills},
		lists:    map[string]bool{"achievements": true},
	},
	scopeSkills: {
		keys: map[string]string{
			"hard":            "hard",
			"hardskills":      "hard",
			"technical":       "hard",
			"technicalskills": "hard",
			"soft":            "soft",
			"softskills":      "soft",
			"languages":       "languages",
			"spokenlanguages": "languages",
		},
		lists: map[string]bool{"hard": true, "soft": true, "languages": true},
	},
	scopeProject: {
		keys: map[string]string{
			"name":         "name",
			"title":        "name",
			"projectname":  "name",
			"description":  "description",
			"desc":         "description",
			"summary":      "description",
			"details":      "description",
			"technologies": "technologies",
			"tech":         "technologies",
			"techstack":    "technologies",
			"stack":        "technologies",
			"url":          "url",
			"link":         "url",
			"repo":         "url",
		},
		lists: map[string]bool{"technologies": true},
	},
	scopeExperience: {
		keys: map[string]string{
			"company":          "company",
			"employer":         "company",
			"organization":     "company",
			"organisation":     "company",
			"role":             "role",
			"title":            "role",
			"position":         "role",
			"jobtitle":         "role",
			"period":           "period",
			"duration":         "period",
			"dates":            "period",
			"location":         "location",
			"description":      "description",
			"summary":          "description",
			"details":          "description",
			"responsibilities": "description",
			"highlights":       "highlights",
			"achievements":     "highlights",
			"bullets":          "highlights",
		},
		lists: map[string]bool{"highlights": true},
	},
	scopeEducation: {
		keys: map[string]string{
			"institution":   "institution",
			"school":        "institution",
			"university":    "institution",
			"college":       "institution",
			"degree":        "degree",
			"qualification": "degree",
			"field":         "field",
			"major":         "field",
			"fieldofstudy":  "field",
			"period":        "period",
			"duration":      "period",
			"dates":         "period",
			"years":         "period",
			"description":   "description",
			"details":       "description",
		},
	},
	scopeFAQ: {
		keys: map[string]string{
			"question": "question",
			"q":        "question",
			"answer":   "answer",
			"a":        "answer",
		},
	},
}

// fold lower-cases k and strips separators so alias lookups ignore casing
// and spelling variants such as snake_case, kebab-case, or spaces.
func fold(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range strings.ToLower(k) {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalize rewrites obj into canonical keys for the named scope, dropping
// unknown keys and null values. When several aliases map to the same
// canonical key, an exact canonical spelling wins, otherwise the first alias
// in sorted order does, so the result never depends on map iteration order.
func normalize(obj map[string]any, scopeName string) map[string]any {
	sc := scopes[scopeName]

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(obj))
	exact := make(map[string]bool, len(obj))
	for _, k := range keys {
		val := obj[k]
		if val == nil {
			continue
		}
		canon, ok := sc.keys[fold(k)]
		if !ok {
			continue
		}
		isExact := k == canon
		if _, seen := out[canon]; seen && (exact[canon] || !isExact) {
			continue
		}

		if child, ok := sc.children[canon]; ok {
			val = normalizeValue(val, child)
		}
		if sc.lists[canon] {
			if s, ok := val.(string); ok {
				val = []any{s}
			}
		}
		out[canon] = val
		exact[canon] = isExact
	}
	return out
}

// normalizeValue applies normalize to an object or to every object in an
// array. A single object where an array is expected is promoted to a
// one-element array for the list-valued root sections.
func normalizeValue(val any, scopeName string) any {
	switch v := val.(type) {
	case map[string]any:
		n := normalize(v, scopeName)
		if isListScope(scopeName) {
			return []any{n}
		}
		return n
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, normalize(m, scopeName))
				continue
			}
			if item != nil {
				out = append(out, item)
			}
		}
		return out
	default:
		return val
	}
}

// isListScope reports whether records of the scope appear as arrays at the
// document root.
func isListScope(scopeName string) bool {
	switch scopeName {
	case scopeProject, scopeExperience, scopeEducation, scopeFAQ:
		return true
	}
	return false
}
