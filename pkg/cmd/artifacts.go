package cmd

import (
	"fmt"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
)

// NewArtifactStore creates the artifact store for the given URL. An
// empty URL selects the in-memory store.
func NewArtifactStore(url string) (artifacts.Store, error) {
	switch {
	case url == "" || url == "memory":
		return artifacts.NewMemoryStore(), nil
	case strings.HasPrefix(url, "redis://"):
		return artifacts.NewRedisStore(url)
	default:
		return nil, fmt.Errorf("unsupported artifact store url: %s", url)
	}
}
