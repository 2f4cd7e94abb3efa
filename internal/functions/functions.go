// Package functions holds the registry of model-callable functions and the
// per-function policy metadata the session engine consumes.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"rondo/internal/chat"
	"rondo/internal/engine"
)

var (
	ErrHandlerRequired       = errors.New("function handler is required")
	ErrNameRequired          = errors.New("function name is required")
	ErrAlreadyRegistered     = errors.New("function already registered")
	ErrNotFound              = errors.New("function not found")
	ErrInvalidAfterRole      = errors.New("function after-role must be assistant or user")
	ErrNegativeAutoTruncate  = errors.New("function auto-truncate must be >= 0")
	ErrSchemaStructRequired  = errors.New("schema struct is required")
	ErrSchemaMustBeObject    = errors.New("function schema type must be object")
	ErrInvalidSchemaDocument = errors.New("invalid function schema json")
)

// Handler executes one function call with raw JSON arguments and returns the
// textual result fed back to the model.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Function is one registered callable plus its call policy.
type Function struct {
	Name        string
	Description string
	// Schema is a JSON Schema object describing the arguments. Use
	// SchemaFromStruct to derive one from a Go struct.
	Schema json.RawMessage

	// AutoRetry reports whether an error raised by Handler is retryable.
	AutoRetry bool
	// After names who speaks next once the call completes: RoleAssistant
	// lets the model react immediately, RoleUser yields control.
	After chat.Role
	// AutoTruncate, when positive, caps the token length of this
	// function's result message.
	AutoTruncate int

	Handler Handler
}

// Spec converts the function into its engine-facing description.
func (f Function) Spec() engine.FunctionSpec {
	return engine.FunctionSpec{
		Name:        f.Name,
		Description: f.Description,
		Schema:      append(json.RawMessage(nil), f.Schema...),
	}
}

// Registry stores functions by name and resolves them for the session.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Function
}

// NewRegistry constructs a registry and registers any initial functions.
// Registration errors for the initial set are returned immediately.
func NewRegistry(initial ...Function) (*Registry, error) {
	r := &Registry{byName: make(map[string]Function, len(initial))}
	for _, fn := range initial {
		if err := r.Register(fn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register inserts a function after normalizing and validating its policy.
func (r *Registry) Register(fn Function) error {
	fn.Name = strings.TrimSpace(fn.Name)
	if fn.Name == "" {
		return ErrNameRequired
	}
	if fn.Handler == nil {
		return fmt.Errorf("%w: %s", ErrHandlerRequired, fn.Name)
	}
	if fn.After == "" {
		fn.After = chat.RoleAssistant
	}
	if fn.After != chat.RoleAssistant && fn.After != chat.RoleUser {
		return fmt.Errorf("%w: %s", ErrInvalidAfterRole, fn.After)
	}
	if fn.AutoTruncate < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAutoTruncate, fn.AutoTruncate)
	}
	if len(fn.Schema) == 0 {
		fn.Schema = json.RawMessage(`{"type":"object","properties":{}}`)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[fn.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, fn.Name)
	}
	r.byName[fn.Name] = fn
	r.order = append(r.order, fn.Name)
	return nil
}

// Get returns a registered function by name.
func (r *Registry) Get(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.byName[strings.TrimSpace(name)]
	return fn, ok
}

// Specs returns engine-facing descriptions in registration order.
func (r *Registry) Specs() []engine.FunctionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil
	}
	specs := make([]engine.FunctionSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.byName[name].Spec())
	}
	return specs
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
