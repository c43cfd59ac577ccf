// Package route loads the site layout: which checkpoints each destination
// requires, in order, and where each checkpoint camera can be reached.
package route

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/etle/vtrack/internal/services/tracker/domain"
	"gopkg.in/yaml.v3"
)

// Checkpoint describes one camera position.
type Checkpoint struct {
	ID          domain.CheckpointID `yaml:"id" json:"id"`
	Name        string              `yaml:"name" json:"name"`
	SnapshotURL string              `yaml:"snapshot_url" json:"-"`
}

// Site is the YAML document shape.
type Site struct {
	Routes      map[string][]domain.CheckpointID `yaml:"routes"`
	Checkpoints []Checkpoint                     `yaml:"checkpoints"`
}

// Table is the immutable destination to route mapping. Lookups on a nil
// Table return empty routes.
type Table struct {
	routes      map[string][]domain.CheckpointID
	checkpoints map[domain.CheckpointID]Checkpoint
}

// DefaultSite is used when no site file is configured.
func DefaultSite() Site {
	return Site{
		Routes: map[string][]domain.CheckpointID{
			"Masjid":            {1, 2},
			"Departemen IT PSP": {3, 4},
			"Pabrik":            {5, 6},
		},
	}
}

// LoadSite reads a YAML site file. An empty path yields DefaultSite.
func LoadSite(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return New(DefaultSite())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site file: %w", err)
	}
	var site Site
	if err := yaml.Unmarshal(raw, &site); err != nil {
		return nil, fmt.Errorf("decode site file %s: %w", path, err)
	}
	return New(site)
}

// New validates site and builds a Table from a private copy of it.
func New(site Site) (*Table, error) {
	t := &Table{
		routes:      make(map[string][]domain.CheckpointID, len(site.Routes)),
		checkpoints: make(map[domain.CheckpointID]Checkpoint, len(site.Checkpoints)),
	}
	for _, cp := range site.Checkpoints {
		if cp.ID <= 0 {
			return nil, fmt.Errorf("checkpoint id must be positive, got %d", cp.ID)
		}
		if _, dup := t.checkpoints[cp.ID]; dup {
			return nil, fmt.Errorf("checkpoint %d declared twice", cp.ID)
		}
		t.checkpoints[cp.ID] = cp
	}
	for destination, ids := range site.Routes {
		destination = strings.TrimSpace(destination)
		if destination == "" {
			return nil, fmt.Errorf("route destination is required")
		}
		for i, id := range ids {
			if id <= 0 {
				return nil, fmt.Errorf("route %q: checkpoint id must be positive, got %d", destination, id)
			}
			if slices.Contains(ids[:i], id) {
				return nil, fmt.Errorf("route %q: checkpoint %d repeated", destination, id)
			}
			if _, ok := t.checkpoints[id]; !ok {
				t.checkpoints[id] = Checkpoint{ID: id, Name: fmt.Sprintf("Checkpoint %d", id)}
			}
		}
		t.routes[destination] = slices.Clone(ids)
	}
	return t, nil
}

// Route returns the ordered checkpoints for destination, or an empty
// sequence when the destination is unknown.
func (t *Table) Route(destination string) []domain.CheckpointID {
	if t == nil {
		return nil
	}
	return slices.Clone(t.routes[destination])
}

// Known reports whether destination has a configured route.
func (t *Table) Known(destination string) bool {
	if t == nil {
		return false
	}
	_, ok := t.routes[destination]
	return ok
}

// Destinations lists configured destinations in name order.
func (t *Table) Destinations() []string {
	if t == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(t.routes))
}

// Checkpoint returns the camera description for id.
func (t *Table) Checkpoint(id domain.CheckpointID) (Checkpoint, bool) {
	if t == nil {
		return Checkpoint{}, false
	}
	cp, ok := t.checkpoints[id]
	return cp, ok
}
