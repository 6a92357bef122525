package artifact

import (
	"fmt"
	"path"
	"strings"

	"github.com/zapbuilder/zapbuild/internal/step"
)

// AnomalyKind classifies something the parser recovered from.
type AnomalyKind string

const (
	// MissingFilePath is a file action without a usable filePath.
	MissingFilePath AnomalyKind = "missing_file_path"
	// UnknownActionType is an action whose type is neither file nor shell.
	// The action is skipped.
	UnknownActionType AnomalyKind = "unknown_action_type"
	// TagNameVariant is a tag accepted under a non-canonical name.
	TagNameVariant AnomalyKind = "tag_name_variant"
	// UnclosedAction is an action still open when its artifact closed. Its
	// content ends at the artifact boundary and it is never executed.
	UnclosedAction AnomalyKind = "unclosed_action"
	// StrayAction is an action outside any artifact. It is ignored.
	StrayAction AnomalyKind = "action_outside_artifact"
)

// Anomaly is a recoverable protocol deviation at a buffer offset.
type Anomaly struct {
	Kind   AnomalyKind `json:"kind" yaml:"kind"`
	Offset int         `json:"offset" yaml:"offset"`
	Detail string      `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (a Anomaly) String() string {
	if a.Detail == "" {
		return fmt.Sprintf("%s at %d", a.Kind, a.Offset)
	}
	return fmt.Sprintf("%s at %d: %s", a.Kind, a.Offset, a.Detail)
}

// Result is the outcome of one parse pass.
type Result struct {
	// Steps in order of first appearance. IDs are left empty; the
	// reconciler assigns them.
	Steps []step.BuildStep
	// Found reports whether any artifact opening tag was seen.
	Found     bool
	Anomalies []Anomaly
}

// Parse extracts build steps from the buffer accumulated so far.
//
// Each artifact produces a header step followed by its actions. An action
// whose closing tag has not arrived yields a step with the content seen so
// far and ParseStatus InProgress; at most one such action exists, since it
// extends to the end of the buffer. A tag whose '>' has not arrived yields
// nothing yet.
func Parse(buf string) Result {
	p := &parser{buf: buf}
	p.parse()
	return p.res
}

type parser struct {
	buf string
	res Result
}

func (p *parser) anomaly(kind AnomalyKind, offset int, format string, args ...any) {
	p.res.Anomalies = append(p.res.Anomalies, Anomaly{
		Kind:   kind,
		Offset: offset,
		Detail: fmt.Sprintf(format, args...),
	})
}

func (p *parser) parse() {
	pos := 0
	for index := 0; ; index++ {
		open, ok := nextOpen(p.buf, pos, artifactFamily)
		if !ok {
			p.strayActions(pos, len(p.buf))
			return
		}
		p.strayActions(pos, open.start)
		if !open.complete {
			return
		}
		p.res.Found = true
		if open.variant {
			p.anomaly(TagNameVariant, open.start, "artifact tag %q", open.name)
		}

		header := step.BuildStep{
			Type:        step.ArtifactHeader,
			Title:       headerTitle(open.attrs),
			ParseStatus: step.InProgress,
			Artifact:    index,
		}

		if open.selfClosing {
			header.ParseStatus = step.Completed
			p.res.Steps = append(p.res.Steps, header)
			pos = open.end
			continue
		}

		closeStart, closeEnd, closed := findClose(p.buf, open.end, open.name)
		bodyEnd := len(p.buf)
		if closed {
			bodyEnd = closeStart
			header.ParseStatus = step.Completed
		}
		p.res.Steps = append(p.res.Steps, header)
		p.actions(open.end, bodyEnd, index, closed)
		if !closed {
			return
		}
		pos = closeEnd
	}
}

func headerTitle(attrs map[string]string) string {
	if t := strings.TrimSpace(attrs["title"]); t != "" {
		return t
	}
	if id := strings.TrimSpace(attrs["id"]); id != "" {
		return id
	}
	return "Artifact"
}

// actions scans the artifact body buf[start:end]. Phase one consumes
// closed pairs; the first action without a closing tag takes the rest of
// the body.
func (p *parser) actions(start, end, artifact int, artifactClosed bool) {
	body := p.buf[:end]
	var (
		pos    = start
		shells = 0
		paths  = make(map[string]int)
	)
	for {
		open, ok := nextOpen(body, pos, actionFamily)
		if !ok || !open.complete {
			return
		}
		if open.variant {
			p.anomaly(TagNameVariant, open.start, "action tag %q", open.name)
		}

		var (
			content  string
			closed   = true
			dangling = false
		)
		cs, ce, found := 0, 0, false
		if !open.selfClosing {
			cs, ce, found = findClose(body, open.end, open.name)
		}
		switch {
		case open.selfClosing:
			pos = open.end
		case found:
			content = body[open.end:cs]
			pos = ce
		default:
			dangling = true
			closed = false
			content = body[open.end:]
			if artifactClosed {
				p.anomaly(UnclosedAction, open.start, "%s never closed", open.name)
			} else {
				content = trimPartialTag(content)
			}
		}

		if s, ok := p.actionStep(open, content, closed, artifact, &shells, paths); ok {
			p.res.Steps = append(p.res.Steps, s)
		}
		if dangling {
			return
		}
	}
}

func (p *parser) actionStep(open openTag, content string, closed bool, artifact int, shells *int, paths map[string]int) (step.BuildStep, bool) {
	status := step.InProgress
	if closed {
		status = step.Completed
	}
	code := strings.TrimSpace(NormalizeIndentation(content))

	switch kind := strings.ToLower(strings.TrimSpace(open.attrs["type"])); kind {
	case ActionFile:
		filePath := CleanPath(open.attrs["filepath"])
		if filePath == "" {
			p.anomaly(MissingFilePath, open.start, "using %q", PlaceholderPath)
			filePath = PlaceholderPath
		}
		occurrence := paths[filePath]
		paths[filePath]++
		name := path.Base(filePath)
		return step.BuildStep{
			Type:          step.CreateFile,
			Title:         step.TitleFor(name),
			Description:   step.DescriptionFor(name),
			Path:          filePath,
			Code:          code,
			ShouldExecute: true,
			ParseStatus:   status,
			Artifact:      artifact,
			Ordinal:       occurrence,
		}, true

	case ActionShell:
		ordinal := *shells
		*shells++
		return step.BuildStep{
			Type:          step.RunScript,
			Title:         step.ShellTitle,
			Description:   code,
			Code:          code,
			ShouldExecute: true,
			ParseStatus:   status,
			Artifact:      artifact,
			Ordinal:       ordinal,
		}, true

	default:
		p.anomaly(UnknownActionType, open.start, "type %q", kind)
		return step.BuildStep{}, false
	}
}

// strayActions records action tags found in buf[from:to], outside any
// artifact.
func (p *parser) strayActions(from, to int) {
	region := p.buf[:to]
	for pos := from; ; {
		open, ok := nextOpen(region, pos, actionFamily)
		if !ok || !open.complete {
			return
		}
		p.anomaly(StrayAction, open.start, "%s ignored", open.name)
		pos = open.end
	}
}

// CleanPath normalizes a filePath attribute to a slash-separated path
// relative to the project root. Leading slashes and ".." segments cannot
// escape the root. An empty or root-only path yields "".
func CleanPath(raw string) string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if raw == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+raw), "/")
}
