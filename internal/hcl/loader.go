// Package hcl loads workflow documents. It parses HCL into the schema
// structs, validates them, and translates them into the immutable model in
// the workflow package. Parsing is a pure transformation: a document either
// yields a complete definition or an error, never a partial result.
package hcl

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/schema"
	"github.com/vk/flowline/internal/workflow"
)

// Loader parses workflow documents. Parsed definitions are cached by
// document content hash, so re-loading an unchanged document is free.
type Loader struct {
	cache *ristretto.Cache
}

// NewLoader creates a new workflow document loader.
func NewLoader() *Loader {
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	return &Loader{cache: cache}
}

// Parse converts one document into a workflow definition. filename is used
// only for diagnostics.
func (l *Loader) Parse(filename string, src []byte) (*workflow.Definition, error) {
	key := contentKey(src)
	if cached, ok := l.cache.Get(key); ok {
		return cached.(*workflow.Definition), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, &workflow.SchemaError{Path: "workflow", Detail: diags.Error()}
	}

	var doc schema.Document
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, &workflow.SchemaError{Path: "workflow", Detail: diags.Error()}
	}

	if len(doc.Workflows) != 1 {
		return nil, &workflow.SchemaError{
			Path:   "workflow",
			Detail: fmt.Sprintf("a document must contain exactly one workflow block, found %d", len(doc.Workflows)),
		}
	}

	def, err := translate(doc.Workflows[0], src)
	if err != nil {
		return nil, err
	}

	l.cache.Set(key, def, 1)
	return def, nil
}

// LoadFile parses a single workflow document from disk.
func (l *Loader) LoadFile(ctx context.Context, path string) (*workflow.Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow document %s: %w", path, err)
	}
	def, err := l.Parse(filepath.Base(path), src)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return def, nil
}

// LoadDir recursively loads every .hcl document under root. Workflow names
// must be unique across the loaded set.
func (l *Loader) LoadDir(ctx context.Context, root string) ([]*workflow.Definition, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering workflow documents under %s: %w", root, err)
	}
	logger.Debug("Discovered workflow documents.", "count", len(files), "root", root)

	var defs []*workflow.Definition
	byName := make(map[string]string)
	for _, f := range files {
		def, err := l.LoadFile(ctx, f)
		if err != nil {
			return nil, err
		}
		if prev, ok := byName[def.Name]; ok {
			return nil, fmt.Errorf("workflow %q defined in both %s and %s", def.Name, prev, f)
		}
		byName[def.Name] = f
		defs = append(defs, def)
	}
	return defs, nil
}

func contentKey(src []byte) string {
	sum := sha256.Sum256(src)
	return string(sum[:])
}
