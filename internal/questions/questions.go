// Package questions loads the read-only question catalog.
package questions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is a titled, ordered list of questions.
type Category struct {
	ID        string   `yaml:"id" json:"id"`
	Title     string   `yaml:"title" json:"title"`
	Questions []string `yaml:"questions" json:"questions,omitempty"`
}

// Catalog is the full set of categories in display order.
type Catalog struct {
	Categories []Category `yaml:"categories"`
}

// Default is the catalog shipped when no file is configured.
func Default() *Catalog {
	return &Catalog{Categories: []Category{
		{ID: "Questions_A", Title: "全般的な質問"},
		{ID: "Questions_B", Title: "用語・概念の質問"},
		{ID: "Questions_C", Title: "勉強方法・メンタル"},
	}}
}

// Load reads a YAML catalog. An empty path returns Default().
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read question catalog: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML catalog and checks category ids are unique.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse question catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.ID == "" {
			return nil, fmt.Errorf("question catalog: categories[%d]: id is required", i)
		}
		if seen[cat.ID] {
			return nil, fmt.Errorf("question catalog: duplicate category id %q", cat.ID)
		}
		seen[cat.ID] = true
	}
	return &c, nil
}

// Category returns the category with id.
func (c *Catalog) Category(id string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}

// Search returns the questions of category id containing keyword, ignoring case.
// An empty keyword returns every question.
func (c *Catalog) Search(id, keyword string) ([]string, bool) {
	cat, ok := c.Category(id)
	if !ok {
		return nil, false
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return cat.Questions, true
	}

	needle := strings.ToLower(keyword)
	out := make([]string, 0, len(cat.Questions))
	for _, q := range cat.Questions {
		if strings.Contains(strings.ToLower(q), needle) {
			out = append(out, q)
		}
	}
	return out, true
}
