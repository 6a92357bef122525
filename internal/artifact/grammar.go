// Package artifact incrementally parses the artifact/action markup that a
// code generator streams back, turning it into build steps.
//
// The grammar is a constrained tag subset, not XML:
//
//	<zapArtifeact id="..." title="...">
//	  <zapAction type="file" filePath="src/index.html">...</zapAction>
//	  <zapAction type="shell">npm install</zapAction>
//	</zapArtifeact>
//
// Parse is total: it never fails, and calling it on successive prefixes of
// a growing buffer yields results that only ever extend one another.
package artifact

import "strings"

// Canonical tag names.
const (
	ArtifactTag = "zapArtifeact"
	ActionTag   = "zapAction"
)

// Action types.
const (
	ActionFile  = "file"
	ActionShell = "shell"
)

// PlaceholderPath is used for file actions that carry no filePath.
const PlaceholderPath = "file"

// family recognizes one of the two tag families. Exact matches are the
// canonical form; variants are accepted but reported as anomalies.
type family struct {
	canonical string
	suffixes  []string
}

var (
	artifactFamily = family{canonical: ArtifactTag, suffixes: []string{"Artifeact", "Artifact"}}
	actionFamily   = family{canonical: ActionTag, suffixes: []string{"Action"}}
)

// match reports whether name belongs to the family and whether it is a
// variant of the canonical name.
func (f family) match(name string) (ok, variant bool) {
	if name == f.canonical {
		return true, false
	}
	if strings.EqualFold(name, f.canonical) {
		return true, true
	}
	// A camelCase name such as "boltArtifact": the suffix must start with
	// its capital letter and must not be the whole name, so "transaction"
	// and "Action" alone are rejected.
	for _, suffix := range f.suffixes {
		if len(name) > len(suffix) && strings.HasSuffix(name, suffix) {
			return true, true
		}
	}
	return false, false
}
