package dataset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrRuleExists     = errors.New("dataset rule already exists")
	ErrInvalidRule    = errors.New("invalid dataset rule")
)

// UnknownDatasetError reports a dataset name no registered rule carries.
type UnknownDatasetError struct {
	ID    string
	Known []string
}

func (e *UnknownDatasetError) Error() string {
	return fmt.Sprintf("%v: %q (known: %s)", ErrUnknownDataset, e.ID, strings.Join(e.Known, ", "))
}

func (e *UnknownDatasetError) Unwrap() error {
	return ErrUnknownDataset
}

//go:embed rules.schema.json
var rulesSchemaJSON string

const rulesSchemaURL = "rules.schema.json"

var (
	rulesSchemaOnce sync.Once
	rulesSchema     *jsonschema.Schema
	rulesSchemaErr  error
)

func compiledRulesSchema() (*jsonschema.Schema, error) {
	rulesSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(rulesSchemaURL, strings.NewReader(rulesSchemaJSON)); err != nil {
			rulesSchemaErr = fmt.Errorf("add rules schema: %w", err)
			return
		}
		rulesSchema, rulesSchemaErr = compiler.Compile(rulesSchemaURL)
	})
	return rulesSchema, rulesSchemaErr
}

// Document is the JSON layout of a rules file.
type Document struct {
	Datasets []Rule `json:"datasets"`
}

// Registry maps dataset IDs to rules. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register validates rule and adds it.
func (r *Registry) Register(rule Rule) error {
	rule = rule.Clone()
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.rules {
		if strings.EqualFold(id, rule.ID) {
			return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
		}
	}
	r.rules[rule.ID] = rule
	return nil
}

// Resolve returns a copy of the rule for id. An exact match is preferred over
// a case-insensitive one.
func (r *Registry) Resolve(id string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rule, ok := r.rules[id]; ok {
		return rule.Clone(), nil
	}
	for key, rule := range r.rules {
		if strings.EqualFold(key, id) {
			return rule.Clone(), nil
		}
	}
	return Rule{}, &UnknownDatasetError{ID: id, Known: r.idsLocked()}
}

// IDs returns the registered dataset IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Load validates a rules document against the embedded JSON Schema, then
// registers every rule in it. Nothing is registered if any rule fails.
func (r *Registry) Load(src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}

	schema, err := compiledRulesSchema()
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalidRule, err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	staged := NewRegistry()
	for _, rule := range doc.Datasets {
		if err := staged.Register(rule); err != nil {
			return err
		}
		if _, err := r.Resolve(rule.ID); err == nil {
			return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
		}
	}
	for _, id := range staged.IDs() {
		if err := r.Register(staged.rules[id]); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads a rules document from path.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()
	if err := r.Load(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
