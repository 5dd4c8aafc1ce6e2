// Package openapi loads and indexes the backend's OpenAPI document, providing
// endpoint lookup by method and path template with request schema access.
package openapi

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// IndexedOperation holds a resolved OpenAPI operation with its context.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
}

// Index is an in-memory index of backend operations keyed by method and
// normalized path template.
type Index struct {
	operations map[string]IndexedOperation // key: "GET /product/{}"
	baseURL    string
}

// NewIndex creates an empty OpenAPI index.
func NewIndex() *Index {
	return &Index{operations: make(map[string]IndexedOperation)}
}

var paramPattern = regexp.MustCompile(`\{[^}]*\}`)

// normalizePath strips parameter names so "/product/{id}" and
// "/product/{productId}" index to the same key.
func normalizePath(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}
	return paramPattern.ReplaceAllString(path, "{}")
}

func operationKey(method, path string) string {
	return strings.ToUpper(method) + " " + normalizePath(path)
}

// Load parses the OpenAPI document at specPath and indexes all operations.
func (idx *Index) Load(specPath string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", specPath, err)
	}
	return idx.index(doc)
}

// LoadData parses an OpenAPI document from memory.
func (idx *Index) LoadData(data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: parsing document: %w", err)
	}
	return idx.index(doc)
}

func (idx *Index) index(doc *openapi3.T) error {
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating document: %w", err)
	}

	if len(doc.Servers) > 0 {
		idx.baseURL = doc.Servers[0].URL
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			idx.operations[operationKey(method, path)] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       strings.ToUpper(method),
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
				Responses:    op.Responses,
			}
		}
	}

	return nil
}

// BaseURL returns the first server URL declared by the document, if any.
func (idx *Index) BaseURL() string {
	return idx.baseURL
}

// GetOperation returns the operation registered for method and path.
func (idx *Index) GetOperation(method, path string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(method, path)]
	return op, ok
}

// HasOperation reports whether the backend declares method on path.
func (idx *Index) HasOperation(method, path string) bool {
	_, ok := idx.GetOperation(method, path)
	return ok
}

// Endpoints returns every indexed "METHOD path" key, sorted.
func (idx *Index) Endpoints() []string {
	keys := make([]string, 0, len(idx.operations))
	for k := range idx.operations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RequiredFields returns the required properties of the operation's JSON or
// multipart request body.
func (idx *Index) RequiredFields(method, path string) []string {
	schema := idx.requestSchema(method, path)
	if schema == nil {
		return nil
	}
	out := make([]string, len(schema.Required))
	copy(out, schema.Required)
	return out
}

func (idx *Index) requestSchema(method, path string) *openapi3.Schema {
	op, ok := idx.GetOperation(method, path)
	if !ok || op.RequestBody == nil {
		return nil
	}
	for _, ct := range []string{"application/json", "multipart/form-data"} {
		mt := op.RequestBody.Content.Get(ct)
		if mt != nil && mt.Schema != nil && mt.Schema.Value != nil {
			return mt.Schema.Value
		}
	}
	return nil
}
