package step

import "testing"

func fileStep(path, code string, closed bool) BuildStep {
	s := BuildStep{
		Type:          CreateFile,
		Title:         TitleFor(path),
		Path:          path,
		Code:          code,
		ShouldExecute: true,
		ParseStatus:   InProgress,
	}
	if closed {
		s.ParseStatus = Completed
	}
	return s
}

func shellStep(ordinal int, code string, closed bool) BuildStep {
	s := BuildStep{
		Type:          RunScript,
		Title:         ShellTitle,
		Description:   code,
		Code:          code,
		ShouldExecute: true,
		Ordinal:       ordinal,
		ParseStatus:   InProgress,
	}
	if closed {
		s.ParseStatus = Completed
	}
	return s
}

func kinds(changes []Change) []ChangeKind {
	out := make([]ChangeKind, len(changes))
	for i, c := range changes {
		out[i] = c.Kind
	}
	return out
}

func TestReconcile_AppendsWithNewIDs(t *testing.T) {
	steps, changes := Reconcile(nil, []BuildStep{
		fileStep("a.txt", "a", true),
		shellStep(0, "ls", false),
	})

	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].ID == "" || steps[1].ID == "" || steps[0].ID == steps[1].ID {
		t.Errorf("steps should get distinct IDs: %q %q", steps[0].ID, steps[1].ID)
	}
	for _, s := range steps {
		if s.ExecStatus != Pending {
			t.Errorf("%s ExecStatus = %q, want pending", s.Path, s.ExecStatus)
		}
	}
	if got := kinds(changes); len(got) != 2 || got[0] != Added || got[1] != Added {
		t.Errorf("changes = %v, want [added added]", got)
	}
}

func TestReconcile_StableIdentityAndGrowth(t *testing.T) {
	steps, _ := Reconcile(nil, []BuildStep{fileStep("src/app.js", "con", false)})
	id := steps[0].ID

	steps, changes := Reconcile(steps, []BuildStep{fileStep("src/app.js", "const x", false)})
	if len(steps) != 1 || steps[0].ID != id {
		t.Fatalf("step identity changed: %+v", steps)
	}
	if steps[0].Code != "const x" {
		t.Errorf("Code = %q, want grown content", steps[0].Code)
	}
	if got := kinds(changes); len(got) != 1 || got[0] != ContentUpdated {
		t.Errorf("changes = %v, want [content_updated]", got)
	}

	steps, changes = Reconcile(steps, []BuildStep{fileStep("src/app.js", "const x = 1", true)})
	if steps[0].ID != id || !steps[0].Closed() {
		t.Errorf("step should be closed with the same ID: %+v", steps[0])
	}
	if got := kinds(changes); len(got) != 2 || got[1] != Closed {
		t.Errorf("changes = %v, want [content_updated closed]", got)
	}
	if changes[1].Before != InProgress {
		t.Errorf("Before = %q, want in_progress", changes[1].Before)
	}
}

func TestReconcile_NeverRegresses(t *testing.T) {
	steps, _ := Reconcile(nil, []BuildStep{fileStep("a.txt", "hello world", true)})

	steps, changes := Reconcile(steps, []BuildStep{fileStep("a.txt", "hello", false)})
	if steps[0].Code != "hello world" {
		t.Errorf("shorter parse should be ignored, Code = %q", steps[0].Code)
	}
	if !steps[0].Closed() {
		t.Error("a closed step must not reopen")
	}
	if len(changes) != 0 {
		t.Errorf("changes = %v, want none", kinds(changes))
	}
}

func TestReconcile_NeverRemoves(t *testing.T) {
	steps, _ := Reconcile(nil, []BuildStep{fileStep("a.txt", "a", true), fileStep("b.txt", "b", true)})

	steps, _ = Reconcile(steps, nil)
	if len(steps) != 2 {
		t.Errorf("got %d steps after empty parse, want 2", len(steps))
	}
}

func TestReconcile_PreservesDriverState(t *testing.T) {
	steps, _ := Reconcile(nil, []BuildStep{shellStep(0, "npm install", true)})
	steps[0].ExecStatus = Failed
	steps[0].Error = "exit status 1"

	steps, _ = Reconcile(steps, []BuildStep{shellStep(0, "npm install", true)})
	if steps[0].ExecStatus != Failed || steps[0].Error == "" {
		t.Errorf("driver state lost: %+v", steps[0])
	}
}

func TestReconcile_ShellDescriptionFollowsCode(t *testing.T) {
	steps, _ := Reconcile(nil, []BuildStep{shellStep(0, "npm", false)})
	steps, _ = Reconcile(steps, []BuildStep{shellStep(0, "npm install", false)})

	if steps[0].Description != "npm install" {
		t.Errorf("Description = %q, want command text", steps[0].Description)
	}
}

func TestReconcile_ShellMatchedByPosition(t *testing.T) {
	steps, _ := Reconcile(nil, []BuildStep{shellStep(0, "npm install", true)})
	steps, changes := Reconcile(steps, []BuildStep{
		shellStep(0, "npm install", true),
		shellStep(1, "npm run dev", false),
	})

	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if len(changes) != 1 || changes[0].Step != steps[1] {
		t.Errorf("only the second shell step should be added, changes = %v", kinds(changes))
	}
}
