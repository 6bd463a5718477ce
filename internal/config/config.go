package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"stageline/internal/workflow"
)

// Config models stageline.yml.
type Config struct {
	Project struct {
		ID       string `yaml:"id"`
		Category string `yaml:"category"`
	} `yaml:"project"`
	Review struct {
		Rejections   int `yaml:"rejections"`
		CriticalBugs int `yaml:"critical_bugs"`
	} `yaml:"review"`
	Classifier struct {
		Rules    []ClassifierRule `yaml:"rules"`
		Fallback string           `yaml:"fallback"`
	} `yaml:"classifier"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type ClassifierRule struct {
	Keywords   []string `yaml:"keywords"`
	Department string   `yaml:"department"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl project init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Review.Rejections < 0 {
		return fmt.Errorf("config.review.rejections must not be negative")
	}
	if c.Review.CriticalBugs < 0 {
		return fmt.Errorf("config.review.critical_bugs must not be negative")
	}
	for i, rule := range c.Classifier.Rules {
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("classifier rule %d has no keywords", i)
		}
		dept, err := workflow.ParseDepartment(rule.Department)
		if err != nil {
			return fmt.Errorf("classifier rule %d: %w", i, err)
		}
		if !dept.IsBuild() && dept != workflow.DeptDesign && dept != workflow.DeptMarkup {
			return fmt.Errorf("classifier rule %d routes to %s; only design, markup and build departments are routable", i, dept)
		}
	}
	if c.Classifier.Fallback != "" {
		dept, err := workflow.ParseDepartment(c.Classifier.Fallback)
		if err != nil {
			return fmt.Errorf("classifier fallback: %w", err)
		}
		if !dept.IsBuild() {
			return fmt.Errorf("classifier fallback must be a build department, got %s", dept)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Rules returns the workflow rule table with any configured review
// threshold overrides applied.
func (c *Config) Rules() *workflow.Rules {
	rules := workflow.DefaultRules()
	if c == nil {
		return rules
	}
	return rules.WithReviewThresholds(workflow.ReviewThresholds{
		Rejections:   c.Review.Rejections,
		CriticalBugs: c.Review.CriticalBugs,
	})
}

// BugClassifier returns the configured classifier, or the default table when
// the config declares no rules.
func (c *Config) BugClassifier() *workflow.Classifier {
	if c == nil || len(c.Classifier.Rules) == 0 {
		return workflow.DefaultClassifier()
	}
	cl := &workflow.Classifier{Fallback: workflow.DeptBuildReact}
	if c.Classifier.Fallback != "" {
		if dept, err := workflow.ParseDepartment(c.Classifier.Fallback); err == nil {
			cl.Fallback = dept
		}
	}
	for _, rule := range c.Classifier.Rules {
		dept, err := workflow.ParseDepartment(rule.Department)
		if err != nil {
			continue
		}
		cl.Rules = append(cl.Rules, workflow.ClassifierRule{Keywords: rule.Keywords, Department: dept})
	}
	return cl
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stageline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  category: web

review:
  rejections: 2
  critical_bugs: 3

classifier:
  fallback: build_react
  rules:
    - keywords: [css, style, layout, font]
      department: design
    - keywords: [html, markup, semantic]
      department: markup
    - keywords: [php, sql, 500, database]
      department: build_php
    - keywords: [react, component, state, hook]
      department: build_react
    - keywords: [wordpress, plugin, theme]
      department: build_wordpress

webhooks: []
`
