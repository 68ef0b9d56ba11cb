package diff_test

import (
	"strings"
	"testing"

	"github.com/reqtrail/reqtrail/internal/diff"
)

func TestRender_MarksReplacedRun(t *testing.T) {
	got, err := diff.Render("abc", "abd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `ab<span class="diff-delete">c</span><span class="diff-insert">d</span>`
	if got != want {
		t.Errorf("rendered = %q, want %q", got, want)
	}
}

func TestRender_EqualPassesThrough(t *testing.T) {
	got, err := diff.Render("same", "same")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "same" {
		t.Errorf("rendered = %q, want unmarked passthrough", got)
	}
}

func TestRender_PureInsertAndDelete(t *testing.T) {
	got, err := diff.Render("", "new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `<span class="diff-insert">new</span>` {
		t.Errorf("insert-only = %q", got)
	}

	got, err = diff.Render("old", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `<span class="diff-delete">old</span>` {
		t.Errorf("delete-only = %q", got)
	}
}

func TestRenderable_SizeCap(t *testing.T) {
	small := "hello"
	huge := strings.Repeat("x", 50001)

	if !diff.Renderable(small, small) {
		t.Error("small pair should be renderable")
	}
	if diff.Renderable(huge, small) {
		t.Error("oversized old value should not be renderable")
	}
	if diff.Renderable(small, huge) {
		t.Error("oversized new value should not be renderable")
	}
}

func TestRenderable_DateValuesExcluded(t *testing.T) {
	if diff.Renderable("2021-01-01", "2022-06-15") {
		t.Error("date pair should not be renderable")
	}
	if diff.Renderable("draft text", "2022-06-15T10:00:00Z") {
		t.Error("pair with one date should not be renderable")
	}
	if !diff.Renderable("draft text", "final text") {
		t.Error("plain text pair should be renderable")
	}
}

func TestAnnotate_StringsGetDiff(t *testing.T) {
	ann, err := diff.Annotate("draft", "final")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ann.Old != "draft" || ann.New != "final" {
		t.Errorf("annotated = %+v", ann)
	}
	if ann.Diff == nil {
		t.Fatal("expected inline diff for plain strings")
	}
	if !strings.Contains(*ann.Diff, "diff-delete") || !strings.Contains(*ann.Diff, "diff-insert") {
		t.Errorf("diff = %q, want both change markers", *ann.Diff)
	}
}

func TestAnnotate_EscapesMarkup(t *testing.T) {
	ann, err := diff.Annotate("<b>x</b>", "<b>y</b>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(ann.Old, "<b>") {
		t.Errorf("old = %q, want escaped markup", ann.Old)
	}
	if ann.Diff == nil {
		t.Fatal("expected diff")
	}
	if strings.Contains(*ann.Diff, "<b>") {
		t.Errorf("diff = %q, raw markup leaked through", *ann.Diff)
	}
}

func TestAnnotate_NonTextValues(t *testing.T) {
	tests := []struct {
		name     string
		old, new any
		wantOld  string
		wantDiff bool
	}{
		{name: "nil old", old: nil, new: "x", wantOld: "", wantDiff: false},
		{name: "numbers", old: 5, new: 6, wantOld: "5", wantDiff: false},
		{name: "bools", old: true, new: false, wantOld: "true", wantDiff: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ann, err := diff.Annotate(tc.old, tc.new)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ann.Old != tc.wantOld {
				t.Errorf("old = %q, want %q", ann.Old, tc.wantOld)
			}
			if (ann.Diff != nil) != tc.wantDiff {
				t.Errorf("diff presence = %v, want %v", ann.Diff != nil, tc.wantDiff)
			}
		})
	}
}

func TestAnnotate_CompositeValuesSerializedAndDiffed(t *testing.T) {
	oldVal := map[string]any{"size": "M", "color": "red"}
	newVal := map[string]any{"size": "M", "color": "blue"}

	ann, err := diff.Annotate(oldVal, newVal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(ann.Old, `&#34;color&#34;`) {
		t.Errorf("old = %q, want escaped JSON form", ann.Old)
	}
	if ann.Diff == nil {
		t.Fatal("expected diff for serialized composites")
	}
	if !strings.Contains(*ann.Diff, "diff-delete") || !strings.Contains(*ann.Diff, "diff-insert") {
		t.Errorf("diff = %q, want change markers for the edited value", *ann.Diff)
	}
}

func TestAnnotate_OversizedValuesPlain(t *testing.T) {
	huge := strings.Repeat("x", 50001)

	ann, err := diff.Annotate(huge, "small")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ann.Diff != nil {
		t.Error("oversized values must not get inline diff markup")
	}
	if ann.Old != huge {
		t.Error("oversized value should pass through unescaped and uncut")
	}
}
