package artifact

import (
	"strings"
	"testing"

	"github.com/zapbuilder/zapbuild/internal/step"
	"github.com/zapbuilder/zapbuild/internal/testutil"
)

func TestParse_EndToEnd(t *testing.T) {
	res := Parse(testutil.DemoTranscript)

	if !res.Found {
		t.Fatal("Found = false, want true")
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("unexpected anomalies: %v", res.Anomalies)
	}

	want := []struct {
		typ   step.Type
		title string
		path  string
		code  string
	}{
		{step.ArtifactHeader, "Demo", "", ""},
		{step.CreateFile, "Create index.html", "src/index.html", "<html></html>"},
		{step.RunScript, "Run shell command", "", "npm install"},
	}
	if len(res.Steps) != len(want) {
		t.Fatalf("got %d steps, want %d: %+v", len(res.Steps), len(want), res.Steps)
	}
	for i, w := range want {
		s := res.Steps[i]
		if s.Type != w.typ || s.Title != w.title || s.Path != w.path || s.Code != w.code {
			t.Errorf("step %d = {%s %q %q %q}, want {%s %q %q %q}",
				i, s.Type, s.Title, s.Path, s.Code, w.typ, w.title, w.path, w.code)
		}
		if s.Status() != step.Completed {
			t.Errorf("step %d status = %s, want completed", i, s.Status())
		}
		if s.ID != "" {
			t.Errorf("parser should leave IDs empty, got %q", s.ID)
		}
	}
	if res.Steps[0].ShouldExecute {
		t.Error("header must not be executable")
	}
	if !res.Steps[1].ShouldExecute || !res.Steps[2].ShouldExecute {
		t.Error("file and shell steps must be executable")
	}
	if res.Steps[2].Description != "npm install" {
		t.Errorf("shell description = %q, want command text", res.Steps[2].Description)
	}
}

func TestParse_TruncatedShell(t *testing.T) {
	buf := strings.Replace(testutil.DemoTranscript, "npm install\n</zapAction>", "npm install\n", 1)
	res := Parse(buf)

	if len(res.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(res.Steps))
	}
	shell := res.Steps[2]
	if shell.Type != step.RunScript || shell.Status() != step.InProgress {
		t.Errorf("shell step = %s/%s, want run_script/in_progress", shell.Type, shell.Status())
	}
	if !shell.ShouldExecute {
		t.Error("ShouldExecute should stay true")
	}
	if shell.Code != "npm install" {
		t.Errorf("Code = %q, want %q", shell.Code, "npm install")
	}
	if res.Steps[0].Status() != step.Completed {
		t.Error("header should be completed once the artifact closes")
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Kind != UnclosedAction {
		t.Errorf("anomalies = %v, want one unclosed_action", res.Anomalies)
	}
}

func TestParse_StreamingStates(t *testing.T) {
	tests := []struct {
		name      string
		buf       string
		wantSteps int
		lastCode  string
		lastOpen  bool
	}{
		{"empty", "", 0, "", false},
		{"prose only", "Here is some <b>text</b>.", 0, "", false},
		{"artifact tag incomplete", `<zapArtifeact id="p1" title="De`, 0, "", false},
		{"artifact open", `<zapArtifeact id="p1" title="Demo">`, 1, "", true},
		{"action tag incomplete", `<zapArtifeact title="Demo"><zapAction type="file" filePa`, 1, "", true},
		{"action streaming", `<zapArtifeact title="Demo"><zapAction type="file" filePath="a.js">const a`, 2, "const a", true},
		{"lone angle bracket held back", `<zapArtifeact title="Demo"><zapAction type="file" filePath="a.js">x <`, 2, "x", true},
		{"closing tag arriving", `<zapArtifeact title="Demo"><zapAction type="file" filePath="a.js">x</zapAct`, 2, "x", true},
		{"artifact closing tag arriving", `<zapArtifeact title="Demo"><zapAction type="shell">ls</zapArtif`, 2, "ls", true},
		{"inner markup kept", `<zapArtifeact title="Demo"><zapAction type="file" filePath="a.html"><div>`, 2, "<div>", true},
		{"action closed", `<zapArtifeact title="Demo"><zapAction type="file" filePath="a.js">x</zapAction>`, 2, "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.buf)
			if len(res.Steps) != tt.wantSteps {
				t.Fatalf("got %d steps, want %d: %+v", len(res.Steps), tt.wantSteps, res.Steps)
			}
			if tt.wantSteps == 0 {
				return
			}
			last := res.Steps[len(res.Steps)-1]
			if last.Code != tt.lastCode {
				t.Errorf("last Code = %q, want %q", last.Code, tt.lastCode)
			}
			if last.Closed() == tt.lastOpen {
				t.Errorf("last Closed() = %v, want %v", last.Closed(), !tt.lastOpen)
			}
		})
	}
}

func TestParse_AttributesAndPaths(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		wantPath string
		anomaly  AnomalyKind
	}{
		{"attributes in any order", `<zapAction filePath="src/App.tsx" type="file">x</zapAction>`, "src/App.tsx", ""},
		{"single quotes", `<zapAction type='file' filePath='a.css'>x</zapAction>`, "a.css", ""},
		{"bare values", `<zapAction type=file filePath=b.js>x</zapAction>`, "b.js", ""},
		{"case-insensitive attribute names", `<zapAction TYPE="FILE" filepath="c.js">x</zapAction>`, "c.js", ""},
		{"leading slash", `<zapAction type="file" filePath="/src/main.ts">x</zapAction>`, "src/main.ts", ""},
		{"parent segments", `<zapAction type="file" filePath="../../etc/passwd">x</zapAction>`, "etc/passwd", ""},
		{"missing filePath", `<zapAction type="file">x</zapAction>`, PlaceholderPath, MissingFilePath},
		{"root filePath", `<zapAction type="file" filePath="/">x</zapAction>`, PlaceholderPath, MissingFilePath},
		{"quoted angle bracket", `<zapAction type="file" filePath="a>b.txt">x</zapAction>`, "a>b.txt", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(`<zapArtifeact title="T">` + tt.action + `</zapArtifeact>`)
			if len(res.Steps) != 2 {
				t.Fatalf("got %d steps, want 2", len(res.Steps))
			}
			if got := res.Steps[1].Path; got != tt.wantPath {
				t.Errorf("Path = %q, want %q", got, tt.wantPath)
			}
			if res.Steps[1].Code != "x" {
				t.Errorf("Code = %q, want x", res.Steps[1].Code)
			}
			if tt.anomaly == "" && len(res.Anomalies) != 0 {
				t.Errorf("unexpected anomalies: %v", res.Anomalies)
			}
			if tt.anomaly != "" && (len(res.Anomalies) != 1 || res.Anomalies[0].Kind != tt.anomaly) {
				t.Errorf("anomalies = %v, want one %s", res.Anomalies, tt.anomaly)
			}
		})
	}
}

func TestParse_UnknownActionTypeSkipped(t *testing.T) {
	res := Parse(`<zapArtifeact title="T"><zapAction type="deploy">x</zapAction><zapAction type="shell">ls</zapAction></zapArtifeact>`)

	if len(res.Steps) != 2 || res.Steps[1].Type != step.RunScript {
		t.Fatalf("steps = %+v, want header and shell", res.Steps)
	}
	if res.Steps[1].Ordinal != 0 {
		t.Errorf("shell Ordinal = %d, want 0", res.Steps[1].Ordinal)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Kind != UnknownActionType {
		t.Errorf("anomalies = %v, want one unknown_action_type", res.Anomalies)
	}
}

func TestParse_TagNameVariants(t *testing.T) {
	tests := []struct {
		name      string
		buf       string
		wantFound bool
		wantSteps int
	}{
		{"camel artifact variant", `<boltArtifact title="T"><boltAction type="shell">ls</boltAction></boltArtifact>`, true, 2},
		{"lowercase canonical", `<zapartifeact title="T"><zapaction type="shell">ls</zapaction></zapartifeact>`, true, 2},
		{"bare suffix is not a variant", `<Artifact title="T"><Action type="shell">ls</Action></Artifact>`, false, 0},
		{"lowercase suffix does not match", `<zapArtifeact title="T"><transaction type="shell">ls</transaction></zapArtifeact>`, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.buf)
			if res.Found != tt.wantFound {
				t.Errorf("Found = %v, want %v", res.Found, tt.wantFound)
			}
			if len(res.Steps) != tt.wantSteps {
				t.Errorf("got %d steps, want %d", len(res.Steps), tt.wantSteps)
			}
		})
	}
}

func TestParse_MismatchedCloseName(t *testing.T) {
	// A variant opening tag is only closed by the same name.
	res := Parse(`<zapArtifeact title="T"><boltAction type="shell">ls</zapAction>`)
	if len(res.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(res.Steps))
	}
	if res.Steps[1].Closed() {
		t.Error("action closed by a different tag name should stay open")
	}
}

func TestParse_MultipleArtifacts(t *testing.T) {
	buf := `<zapArtifeact id="one"><zapAction type="shell">a</zapAction></zapArtifeact>
text <zapAction type="shell">stray</zapAction>
<zapArtifeact title="Two"><zapAction type="shell">b</zapAction><zapAction type="file" filePath="x"/></zapArtifeact>`

	res := Parse(buf)
	if len(res.Steps) != 5 {
		t.Fatalf("got %d steps, want 5: %+v", len(res.Steps), res.Steps)
	}
	if res.Steps[0].Title != "one" {
		t.Errorf("header title fallback = %q, want id", res.Steps[0].Title)
	}
	if res.Steps[2].Artifact != 1 || res.Steps[3].Artifact != 1 {
		t.Error("second artifact steps should carry artifact index 1")
	}
	if res.Steps[3].Ordinal != 0 {
		t.Errorf("shell ordinals restart per artifact, got %d", res.Steps[3].Ordinal)
	}
	if s := res.Steps[4]; s.Path != "x" || s.Code != "" || !s.Closed() {
		t.Errorf("self-closing file step = %+v", s)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Kind != StrayAction {
		t.Errorf("anomalies = %v, want one stray action", res.Anomalies)
	}
}

func TestParse_HeaderTitleDefault(t *testing.T) {
	res := Parse(`<zapArtifeact>`)
	if len(res.Steps) != 1 || res.Steps[0].Title != "Artifact" {
		t.Errorf("steps = %+v, want a header titled Artifact", res.Steps)
	}
}

func TestParse_DuplicatePaths(t *testing.T) {
	res := Parse(`<zapArtifeact title="T"><zapAction type="file" filePath="a">1</zapAction><zapAction type="file" filePath="a">22</zapAction></zapArtifeact>`)
	if len(res.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(res.Steps))
	}
	if res.Steps[1].Key() == res.Steps[2].Key() {
		t.Error("repeated paths need distinct keys")
	}
}

// reconcileAll parses each buffer in turn and reconciles into one list.
func reconcileAll(bufs []string) []*step.BuildStep {
	var steps []*step.BuildStep
	for _, b := range bufs {
		steps, _ = step.Reconcile(steps, Parse(b).Steps)
	}
	return steps
}

func TestParse_IncrementalMatchesOneShot(t *testing.T) {
	transcripts := map[string]string{
		"demo":     testutil.DemoTranscript,
		"vite":     testutil.ViteTranscript,
		"ordering": testutil.TwoFilesThenShell,
		"truncated": strings.Replace(testutil.DemoTranscript,
			"npm install\n</zapAction>", "npm install\n", 1),
	}

	for name, transcript := range transcripts {
		for _, size := range []int{1, 3, 7, 64} {
			oneShot := reconcileAll([]string{transcript})
			incremental := reconcileAll(testutil.Prefixes(transcript, size))

			if len(incremental) != len(oneShot) {
				t.Fatalf("%s/%d: got %d steps, want %d", name, size, len(incremental), len(oneShot))
			}
			for i := range oneShot {
				a, b := incremental[i], oneShot[i]
				if a.Key() != b.Key() || a.Code != b.Code || a.Title != b.Title ||
					a.Description != b.Description || a.Status() != b.Status() {
					t.Errorf("%s/%d step %d:\n got  %+v\n want %+v", name, size, i, *a, *b)
				}
			}
		}
	}
}

func TestParse_MonotonicContent(t *testing.T) {
	var steps []*step.BuildStep
	seen := map[step.Key]string{}

	for _, prefix := range testutil.Prefixes(testutil.ViteTranscript, 1) {
		res := Parse(prefix)
		for _, s := range res.Steps {
			prev, ok := seen[s.Key()]
			if ok && !strings.HasPrefix(s.Code, prev) {
				t.Fatalf("content for %v regressed: %q then %q", s.Key(), prev, s.Code)
			}
			seen[s.Key()] = s.Code
		}
		steps, _ = step.Reconcile(steps, res.Steps)
	}

	ids := map[step.Key]string{}
	for _, s := range steps {
		ids[s.Key()] = s.ID
	}
	steps, _ = step.Reconcile(steps, Parse(testutil.ViteTranscript).Steps)
	for _, s := range steps {
		if ids[s.Key()] != s.ID {
			t.Errorf("ID for %v changed", s.Key())
		}
	}
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"  ":               "",
		"/":                "",
		"src//a.js":        "src/a.js",
		"./src/./a.js":     "src/a.js",
		"src\\win\\a.js":   "src/win/a.js",
		" /abs/path.txt ":  "abs/path.txt",
		"a/../../b":        "b",
		"deep/dir/file.md": "deep/dir/file.md",
	}
	for in, want := range tests {
		if got := CleanPath(in); got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}
}
