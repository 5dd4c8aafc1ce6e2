// Package definition loads resource definition YAML files, validates them,
// optionally against the backend's OpenAPI document, and provides a
// fast-lookup registry with atomic pointer swap.
package definition

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/console/model"
)

// Loader reads resource definitions from YAML. A file may hold several
// definitions separated by "---". Unknown keys are rejected so a misspelt
// option fails at startup instead of being ignored.
type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll walks each directory for *.yaml and *.yml files. Entries whose
// name starts with a dot are skipped. Two definitions with the same id are
// an error naming both files.
func (l *Loader) LoadAll(directories []string) ([]model.ResourceDefinition, error) {
	var defs []model.ResourceDefinition
	seen := make(map[string]string)

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !isYAML(path) {
				return nil
			}

			loaded, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			for _, def := range loaded {
				if prev, dup := seen[def.ID]; dup {
					return fmt.Errorf("resource %q defined in both %s and %s", def.ID, prev, path)
				}
				seen[def.ID] = path
			}
			defs = append(defs, loaded...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("definitions in %s: %w", dir, err)
		}
	}
	return defs, nil
}

// LoadFile parses every definition in path. Each gets a checksum over the
// file content and its position, and records path as its source.
func (l *Loader) LoadFile(path string) ([]model.ResourceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var defs []model.ResourceDefinition
	for doc := 0; ; doc++ {
		var def model.ResourceDefinition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: document %d: %w", path, doc+1, err)
		}
		if def.ID == "" && def.Title == "" && len(def.Columns) == 0 {
			continue // empty document
		}
		if def.Entity == "" {
			def.Entity = def.ID
		}
		sum := sha256.New()
		sum.Write(data)
		fmt.Fprintf(sum, "#%d", doc)
		def.Checksum = fmt.Sprintf("%x", sum.Sum(nil))
		def.SourceFile = path
		defs = append(defs, def)
	}
	return defs, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
