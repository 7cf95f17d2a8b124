package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirBackend reads secrets from "<dir>/<name>.json" documents mounted by
// the deployment (a secrets volume or an attached layer). Each document is
// a flat JSON object of string values.
type DirBackend struct {
	dir string
}

func NewDirBackend(dir string) *DirBackend {
	return &DirBackend{dir: dir}
}

func (b *DirBackend) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("secrets: name is required")
	}
	// Secret names are opaque identifiers, never paths.
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("secrets: invalid name %q", name)
	}

	path := filepath.Join(b.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("secrets: read %s: %w", name, err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return values, nil
}
