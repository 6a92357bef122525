// Package step defines the BuildStep model shared by the artifact parser,
// the reconciler and the execution driver.
package step

import "github.com/google/uuid"

// Type is the kind of a build step.
type Type string

const (
	// ArtifactHeader is the non-executable marker for an artifact block.
	ArtifactHeader Type = "artifact_header"
	// CreateFile writes Code to Path in the runtime tree.
	CreateFile Type = "create_file"
	// RunScript runs Code as a shell command.
	RunScript Type = "run_script"
)

// Status is a step lifecycle state.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// BuildStep is one header, file or shell unit extracted from the stream.
//
// Status is tracked on two axes. ParseStatus is InProgress while the
// step's tag is still open in the buffer and Completed once its closing tag
// has been seen. ExecStatus is owned by the driver and stays Pending until
// the driver starts the step. Status() combines the two.
type BuildStep struct {
	ID            string `json:"id" yaml:"id"`
	Type          Type   `json:"type" yaml:"type"`
	Title         string `json:"title" yaml:"title"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
	Code          string `json:"code,omitempty" yaml:"code,omitempty"`
	ShouldExecute bool   `json:"should_execute" yaml:"should_execute"`

	ParseStatus Status `json:"parse_status" yaml:"parse_status"`
	ExecStatus  Status `json:"exec_status" yaml:"exec_status"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`

	// Artifact is the zero-based index of the artifact block the step
	// came from.
	Artifact int `json:"artifact" yaml:"artifact"`
	// Ordinal disambiguates steps of the same type within an artifact:
	// the shell index for RunScript, the occurrence index of Path for
	// CreateFile, zero for the header.
	Ordinal int `json:"ordinal" yaml:"ordinal"`
}

// Key identifies a logical step across re-parses of a growing buffer.
type Key struct {
	Type     Type
	Artifact int
	Path     string
	Ordinal  int
}

// Key returns the identity key of s.
func (s *BuildStep) Key() Key {
	k := Key{Type: s.Type, Artifact: s.Artifact, Ordinal: s.Ordinal}
	if s.Type == CreateFile {
		k.Path = s.Path
	}
	return k
}

// Status returns the driver's status once execution has started and the
// parse status before that.
func (s *BuildStep) Status() Status {
	if s.ExecStatus != "" && s.ExecStatus != Pending {
		return s.ExecStatus
	}
	if s.ParseStatus == "" {
		return Pending
	}
	return s.ParseStatus
}

// Closed reports whether the step's closing tag has been seen.
func (s *BuildStep) Closed() bool {
	return s.ParseStatus == Completed
}

// Clone returns a copy of s.
func (s *BuildStep) Clone() *BuildStep {
	c := *s
	return &c
}

// CloneAll deep-copies a step list.
func CloneAll(steps []*BuildStep) []*BuildStep {
	out := make([]*BuildStep, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// NewID returns a fresh step identifier.
func NewID() string {
	return uuid.NewString()
}
