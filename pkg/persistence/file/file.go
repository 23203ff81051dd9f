// Package file provides file-based persistence for run records. Each
// run is one JSON document under <root>/runs/.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root    string
	runRepo *RunRepository
}

// NewPersistence creates file persistence rooted at the given path.
// Accepts a plain path or a file:// URL.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:    cleanRoot,
		runRepo: NewRunRepository(cleanRoot),
	}
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runRepo
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
