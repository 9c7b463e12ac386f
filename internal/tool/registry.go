package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"
)

var (
	// ErrToolNotFound is returned when looking up a name that was never registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrSealed is returned by Register after Seal.
	ErrSealed = errors.New("tool registry is sealed")
)

// Entry is a registered tool.
type Entry struct {
	Definition Definition
	Handler    Handler
}

// Registry holds tool definitions and their handlers. Registration happens at
// start-up; once sealed the set of tools is fixed.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Entry
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Entry)}
}

// Register adds a tool. Registering an existing name replaces it.
func (r *Registry) Register(def Definition, h Handler) error {
	if def.Name == "" {
		return errors.New("tool definition has no name")
	}
	if h == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}
	for _, p := range def.Parameters {
		if !knownType(p.Type) {
			return fmt.Errorf("tool %s: parameter %q has unsupported type %q", def.Name, p.Name, p.Type)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrSealed, def.Name)
	}
	r.tools[def.Name] = Entry{Definition: def, Handler: h}
	return nil
}

// RegisterTool registers a Tool under its own definition.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Definition(), t)
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// Lookup is Get with an ErrToolNotFound error.
func (r *Registry) Lookup(name string) (Entry, error) {
	e, ok := r.Get(name)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e, nil
}

// List returns the registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns every definition, sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		if e, ok := r.tools[name]; ok {
			defs = append(defs, e.Definition)
		}
	}
	return defs
}

// ToolInfos converts definitions to eino tool infos for the provider. A nil
// filter selects every tool.
func (r *Registry) ToolInfos(filter func(name string) bool) []*schema.ToolInfo {
	defs := r.Definitions()
	infos := make([]*schema.ToolInfo, 0, len(defs))
	for _, def := range defs {
		if filter != nil && !filter(def.Name) {
			continue
		}
		infos = append(infos, ToolInfo(def))
	}
	return infos
}

// ToolInfo converts one definition to an eino tool info.
func ToolInfo(def Definition) *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(def.Parameters))
	for _, p := range def.Parameters {
		info := &schema.ParameterInfo{
			Type:     dataType(p.Type),
			Desc:     p.Description,
			Enum:     p.Enum,
			Required: p.Required,
		}
		if p.Type == TypeArray {
			elem := p.Items
			if elem == "" {
				elem = TypeString
			}
			info.ElemInfo = &schema.ParameterInfo{Type: dataType(elem)}
		}
		params[p.Name] = info
	}
	return &schema.ToolInfo{
		Name:        def.Name,
		Desc:        def.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

func dataType(t string) schema.DataType {
	switch t {
	case TypeInteger:
		return schema.Integer
	case TypeNumber:
		return schema.Number
	case TypeBoolean:
		return schema.Boolean
	case TypeArray:
		return schema.Array
	case TypeObject:
		return schema.Object
	default:
		return schema.String
	}
}

func knownType(t string) bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Validate checks raw arguments against the named tool's definition and
// returns them decoded. Every failure is a *ValidationError.
func (r *Registry) Validate(name string, raw json.RawMessage) (map[string]any, error) {
	e, ok := r.Get(name)
	if !ok {
		return nil, &ValidationError{Tool: name, Reason: "unknown tool"}
	}
	return ValidateArgs(e.Definition, raw)
}

// ValidateArgs checks raw arguments against def.
func ValidateArgs(def Definition, raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &ValidationError{Tool: def.Name, Reason: "arguments must be a JSON object"}
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	for _, p := range def.Parameters {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, &ValidationError{Tool: def.Name, Param: p.Name, Reason: "is required"}
			}
			continue
		}
		if reason := checkType(p, v); reason != "" {
			return nil, &ValidationError{Tool: def.Name, Param: p.Name, Reason: reason}
		}
		if len(p.Enum) > 0 {
			s, _ := v.(string)
			if !contains(p.Enum, s) {
				return nil, &ValidationError{Tool: def.Name, Param: p.Name, Reason: fmt.Sprintf("must be one of %v", p.Enum)}
			}
		}
	}

	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, ok := def.Param(k); !ok {
			return nil, &ValidationError{Tool: def.Name, Param: k, Reason: "is not a known parameter"}
		}
	}
	return args, nil
}

func checkType(p Parameter, v any) string {
	if !matchesType(p.Type, v) {
		return "must be " + article(p.Type)
	}
	if p.Type == TypeArray && p.Items != "" {
		for i, elem := range v.([]any) {
			if !matchesType(p.Items, elem) {
				return fmt.Sprintf("element %d must be %s", i, article(p.Items))
			}
		}
	}
	return ""
}

func matchesType(t string, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func article(t string) string {
	switch t {
	case TypeInteger, TypeArray, TypeObject:
		return "an " + t
	default:
		return "a " + t
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
