// Package file provides file-based persistence: one JSON document per record
// under a root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/orgflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root       string
	rules      *RuleRepository
	workflows  *WorkflowRepository
	executions *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:       cleanRoot,
		rules:      NewRuleRepository(cleanRoot),
		workflows:  NewWorkflowRepository(cleanRoot),
		executions: NewExecutionRepository(cleanRoot),
	}
}

func (fp *Persistence) Rules() persistence.RuleRepository           { return fp.rules }
func (fp *Persistence) Workflows() persistence.WorkflowRepository   { return fp.workflows }
func (fp *Persistence) Executions() persistence.ExecutionRepository { return fp.executions }

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck creates the root directory if needed and verifies it is a directory.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.root, 0750)
	if err != nil {
		return fmt.Errorf("failed to create root directory: %w", err)
	}

	info, err := os.Stat(fp.root)
	if err != nil {
		return fmt.Errorf("failed to stat root directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", fp.root)
	}

	return nil
}

// collection is a directory of JSON documents keyed by id.
type collection[T any] struct {
	mu  sync.RWMutex
	dir string
}

func newCollection[T any](root, name string) *collection[T] {
	return &collection[T]{dir: filepath.Join(root, name)}
}

func (c *collection[T]) path(id string) (string, error) {
	err := persistence.ValidateID(id)
	if err != nil {
		return "", err
	}

	return filepath.Join(c.dir, id+".json"), nil
}

// read returns os.ErrNotExist when the document is absent.
func (c *collection[T]) read(id string) (*T, error) {
	filePath, err := c.path(id)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(filePath) // #nosec G304 -- id is validated by path
	if err != nil {
		return nil, err
	}

	var value T

	err = json.Unmarshal(body, &value)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return &value, nil
}

func (c *collection[T]) write(id string, value *T) error {
	filePath, err := c.path(id)
	if err != nil {
		return err
	}

	err = os.MkdirAll(c.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp := filePath + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	err = os.Rename(tmp, filePath)
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", id, err)
	}

	return nil
}

func (c *collection[T]) remove(id string) error {
	filePath, err := c.path(id)
	if err != nil {
		return err
	}

	return os.Remove(filePath)
}

func (c *collection[T]) all() ([]*T, error) {
	matches, err := fs.Glob(os.DirFS(c.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}

	values := make([]*T, 0, len(matches))

	for _, match := range matches {
		value, err := c.read(strings.TrimSuffix(match, ".json"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, err
		}

		values = append(values, value)
	}

	return values, nil
}

// notFound maps a missing document to the given sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return sentinel
	}

	return err
}
