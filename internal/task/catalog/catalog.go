// Package catalog holds the ordered list of exam task descriptors.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tasks.yaml
var defaultCatalog []byte

// Descriptor describes one exam task. Only ID has meaning to the service.
type Descriptor struct {
	ID           int    `yaml:"id" json:"id"`
	Node         string `yaml:"node" json:"node"`
	Title        string `yaml:"title" json:"title"`
	Instructions string `yaml:"instructions" json:"instructions"`
}

type file struct {
	Tasks []Descriptor `yaml:"tasks"`
}

// Catalog is an immutable, ordered set of descriptors.
type Catalog struct {
	tasks []Descriptor
	index map[int]int
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, or returns the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Ids must be positive and unique.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f.Tasks)
}

// New builds a catalog from descriptors, preserving their order.
func New(tasks []Descriptor) (*Catalog, error) {
	c := &Catalog{tasks: make([]Descriptor, 0, len(tasks)), index: make(map[int]int, len(tasks))}
	for _, t := range tasks {
		if t.ID <= 0 {
			return nil, fmt.Errorf("task id must be positive, got %d", t.ID)
		}
		if _, dup := c.index[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %d", t.ID)
		}
		c.index[t.ID] = len(c.tasks)
		c.tasks = append(c.tasks, t)
	}
	return c, nil
}

// List returns the descriptors in catalog order.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, len(c.tasks))
	copy(out, c.tasks)
	return out
}

func (c *Catalog) Get(id int) (Descriptor, bool) {
	i, ok := c.index[id]
	if !ok {
		return Descriptor{}, false
	}
	return c.tasks[i], true
}

// IDs returns task ids in catalog order.
func (c *Catalog) IDs() []int {
	ids := make([]int, len(c.tasks))
	for i, t := range c.tasks {
		ids[i] = t.ID
	}
	return ids
}
