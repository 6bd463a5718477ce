package workflow

import "testing"

func TestClassifyKeywordRouting(t *testing.T) {
	c := DefaultClassifier()
	cases := []struct {
		title, description string
		want               Department
	}{
		{"Broken layout on homepage", "", DeptDesign},
		{"Mobile view overlaps footer", "markup regression", DeptMarkup},
		{"500 on checkout", "server error after submit", DeptBuildPHP},
		{"Component state resets", "frontend only", DeptBuildReact},
		{"Plugin conflict", "wordpress admin panel", DeptBuildWordPress},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.title, tc.description); got != tc.want {
			t.Fatalf("Classify(%q, %q) = %s, want %s", tc.title, tc.description, got, tc.want)
		}
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// "css" (design rule) appears before any build keyword would match.
	c := DefaultClassifier()
	if got := c.Classify("css breaks the php page", ""); got != DeptDesign {
		t.Fatalf("expected first matching rule to win, got %s", got)
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	c := DefaultClassifier()
	if got := c.Classify("WORDPRESS Theme missing", ""); got != DeptBuildWordPress {
		t.Fatalf("expected case-insensitive match, got %s", got)
	}
}

func TestClassifyFallback(t *testing.T) {
	c := DefaultClassifier()
	if got := c.Classify("Something vague", "no keyword here"); got != DeptBuildReact {
		t.Fatalf("expected fallback department, got %s", got)
	}
	custom := &Classifier{Fallback: DeptQA}
	if got := custom.Classify("anything", ""); got != DeptQA {
		t.Fatalf("expected configured fallback, got %s", got)
	}
}
