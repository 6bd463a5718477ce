package workflow

import (
	"fmt"
	"strings"
)

// Department is a stage in the project pipeline. Coordination is a
// membership-only department for coordinators and team leads; it never
// appears in a workflow sequence.
type Department string

const (
	DeptIntake         Department = "intake"
	DeptDesign         Department = "design"
	DeptMarkup         Department = "markup"
	DeptBuildPHP       Department = "build_php"
	DeptBuildReact     Department = "build_react"
	DeptBuildWordPress Department = "build_wordpress"
	DeptQA             Department = "qa"
	DeptDelivery       Department = "delivery"
	DeptCoordination   Department = "coordination"
)

var departments = map[Department]bool{
	DeptIntake:         true,
	DeptDesign:         true,
	DeptMarkup:         true,
	DeptBuildPHP:       true,
	DeptBuildReact:     true,
	DeptBuildWordPress: true,
	DeptQA:             true,
	DeptDelivery:       true,
	DeptCoordination:   true,
}

// ParseDepartment rejects unknown department codes at the boundary so raw
// strings never travel through the rule tables.
func ParseDepartment(s string) (Department, error) {
	d := Department(strings.ToLower(strings.TrimSpace(s)))
	if !departments[d] {
		return "", fmt.Errorf("unknown department %q", s)
	}
	return d, nil
}

// IsBuild reports whether d is one of the build branches.
func (d Department) IsBuild() bool {
	return d == DeptBuildPHP || d == DeptBuildReact || d == DeptBuildWordPress
}

// Letter codes for project code generation. Delivery uses V so it cannot
// collide with design.
var departmentLetters = map[Department]string{
	DeptIntake:         "I",
	DeptDesign:         "D",
	DeptMarkup:         "M",
	DeptBuildPHP:       "P",
	DeptBuildReact:     "R",
	DeptBuildWordPress: "W",
	DeptQA:             "Q",
	DeptDelivery:       "V",
}

// Letter returns the single-letter code for d, or "" for departments that
// never contribute to a project code.
func (d Department) Letter() string {
	return departmentLetters[d]
}

// BuildDepartmentForCategory resolves the build branch from a project
// category. PHP and WordPress keywords pick their branches; everything
// else gets the React branch.
func BuildDepartmentForCategory(category string) Department {
	c := strings.ToLower(category)
	switch {
	case strings.Contains(c, "php"):
		return DeptBuildPHP
	case strings.Contains(c, "wordpress") || strings.Contains(c, "wp"):
		return DeptBuildWordPress
	default:
		return DeptBuildReact
	}
}
