package workflow

import "strings"

// ClassifierRule routes a bug to a department when any of its keywords
// appears in the bug title or description.
type ClassifierRule struct {
	Keywords   []string
	Department Department
}

// Classifier is the pluggable keyword-heuristic bug router. Rules are
// evaluated in order; the first match wins. Classification is advisory
// bookkeeping only and never gates a transition.
type Classifier struct {
	Rules    []ClassifierRule
	Fallback Department
}

// DefaultClassifier returns the standard keyword table.
func DefaultClassifier() *Classifier {
	return &Classifier{
		Rules: []ClassifierRule{
			{Keywords: []string{"layout", "css", "style", "visual", "color", "font"}, Department: DeptDesign},
			{Keywords: []string{"markup", "html", "responsive", "mobile view"}, Department: DeptMarkup},
			{Keywords: []string{"php", "backend", "database", "sql", "server error", "500"}, Department: DeptBuildPHP},
			{Keywords: []string{"react", "component", "frontend", "javascript", "js "}, Department: DeptBuildReact},
			{Keywords: []string{"wordpress", "plugin", "theme"}, Department: DeptBuildWordPress},
		},
		Fallback: DeptBuildReact,
	}
}

// Classify picks the assignment department for a bug from its title and
// description.
func (c *Classifier) Classify(title, description string) Department {
	haystack := strings.ToLower(title + " " + description)
	for _, rule := range c.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(haystack, kw) {
				return rule.Department
			}
		}
	}
	return c.Fallback
}
