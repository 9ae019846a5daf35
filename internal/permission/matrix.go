package permission

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"gatehouse-api/internal/domain"
)

//go:embed matrix_seed.json
var seedJSON []byte

// Matrix is the versioned (role, category) -> actions mapping. It is the
// first gate of every permission resolution: a role-level denial is final
// and no scope can override it.
//
// The matrix is immutable once loaded; re-seeding swaps the whole value
// atomically (see Service.SeedMatrix).
type Matrix struct {
	version int
	rules   map[domain.Role]map[domain.ResourceCategory]map[domain.Action]bool
}

type matrixFile struct {
	Version int          `json:"version"`
	Rules   []matrixRule `json:"rules"`
}

type matrixRule struct {
	Role   domain.Role                                  `json:"role"`
	Grants map[domain.ResourceCategory][]domain.Action `json:"grants"`
}

// Default loads the matrix embedded at build time.
func Default() (*Matrix, error) {
	return parse(seedJSON)
}

// Load reads a matrix from a JSON file. Used by the seed-matrix command and
// by deployments that override the embedded seed via MATRIX_PATH.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matrix file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Matrix, error) {
	var file matrixFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse matrix: %w", err)
	}
	if file.Version <= 0 {
		return nil, fmt.Errorf("matrix version must be positive, got %d", file.Version)
	}

	m := &Matrix{
		version: file.Version,
		rules:   make(map[domain.Role]map[domain.ResourceCategory]map[domain.Action]bool),
	}

	for _, rule := range file.Rules {
		if !rule.Role.IsValid() {
			return nil, fmt.Errorf("matrix references unknown role: %s", rule.Role)
		}
		if _, ok := m.rules[rule.Role]; ok {
			return nil, fmt.Errorf("matrix declares role twice: %s", rule.Role)
		}

		grants := make(map[domain.ResourceCategory]map[domain.Action]bool)
		for category, actions := range rule.Grants {
			if !category.IsValid() {
				return nil, fmt.Errorf("matrix references unknown category %q for role %s", category, rule.Role)
			}
			set := make(map[domain.Action]bool, len(actions))
			for _, action := range actions {
				if !action.IsValid() {
					return nil, fmt.Errorf("matrix references unknown action %q for role %s", action, rule.Role)
				}
				set[action] = true
			}
			grants[category] = set
		}
		m.rules[rule.Role] = grants
	}

	return m, nil
}

// Version returns the matrix version.
func (m *Matrix) Version() int {
	return m.version
}

// Allows reports whether the role may perform the action on the category at
// all. Anything not explicitly granted is denied.
func (m *Matrix) Allows(role domain.Role, category domain.ResourceCategory, action domain.Action) bool {
	grants, ok := m.rules[role]
	if !ok {
		return false
	}
	actions, ok := grants[category]
	if !ok {
		return false
	}
	return actions[action]
}
