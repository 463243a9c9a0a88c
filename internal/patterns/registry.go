package patterns

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxRegistryFileSize caps the size of a pattern file (1MB).
const MaxRegistryFileSize = 1024 * 1024

//go:embed default_patterns.yaml
var defaultPatternsYAML []byte

var patternIDRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("patternid", func(fl validator.FieldLevel) bool {
		return patternIDRe.MatchString(fl.Field().String())
	})
	return v
}

// fileFormat is the on-disk layout of a pattern file.
type fileFormat struct {
	IncludeDefaults bool         `yaml:"include_defaults"`
	Patterns        []Definition `yaml:"patterns"`
}

// Registry is an immutable snapshot of pattern definitions. Callers must
// treat returned definitions as read-only.
type Registry struct {
	defs     []Definition
	byID     map[string]int
	source   string
	loadedAt time.Time
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Parse("default", defaultPatternsYAML)
}

// LoadFile reads a pattern file. With include_defaults set, the embedded
// catalogue is merged in and file definitions win on id collisions.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pattern file: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, MaxRegistryFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading pattern file: %w", err)
	}
	if len(data) > MaxRegistryFileSize {
		return nil, &ConfigurationError{Source: path, Problems: []string{"file exceeds 1MB"}}
	}
	return Parse(path, data)
}

// Parse builds a registry from YAML. All problems are collected into a
// single *ConfigurationError.
func Parse(source string, data []byte) (*Registry, error) {
	var ff fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Source: source, Problems: []string{err.Error()}}
	}

	defs := ff.Patterns
	if ff.IncludeDefaults {
		base, err := Default()
		if err != nil {
			return nil, err
		}
		defs = mergeDefinitions(base.defs, ff.Patterns)
	}
	return NewRegistry(source, defs)
}

// NewRegistry validates defs and builds a registry from them.
func NewRegistry(source string, defs []Definition) (*Registry, error) {
	cerr := &ConfigurationError{Source: source}
	if len(defs) == 0 {
		cerr.add("no patterns defined")
	}

	r := &Registry{
		defs:     make([]Definition, 0, len(defs)),
		byID:     make(map[string]int, len(defs)),
		source:   source,
		loadedAt: time.Now(),
	}
	for i, def := range defs {
		label := def.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if err := validate.Struct(def); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					cerr.add("pattern %s: field %s failed %q", label, fe.Namespace(), fe.Tag())
				}
			} else {
				cerr.add("pattern %s: %v", label, err)
			}
		}
		for _, p := range def.Rule.check() {
			cerr.add("pattern %s: %s", label, p)
		}
		if _, dup := r.byID[def.ID]; dup && def.ID != "" {
			cerr.add("pattern %s: duplicate id", label)
			continue
		}
		r.byID[def.ID] = len(r.defs)
		r.defs = append(r.defs, def)
	}

	if len(cerr.Problems) > 0 {
		return nil, cerr
	}
	return r, nil
}

func mergeDefinitions(base, overrides []Definition) []Definition {
	seen := make(map[string]bool, len(overrides))
	for _, d := range overrides {
		seen[d.ID] = true
	}
	merged := make([]Definition, 0, len(base)+len(overrides))
	for _, d := range base {
		if !seen[d.ID] {
			merged = append(merged, d)
		}
	}
	return append(merged, overrides...)
}

// Get returns the definition with the given id.
func (r *Registry) Get(id string) (Definition, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns the definitions in file order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Len returns the number of definitions.
func (r *Registry) Len() int { return len(r.defs) }

// Source names where the registry was loaded from.
func (r *Registry) Source() string { return r.source }

// LoadedAt is when the snapshot was built.
func (r *Registry) LoadedAt() time.Time { return r.loadedAt }

// InlineDirectives returns the directive text embedded in definitions,
// keyed by pattern id.
func (r *Registry) InlineDirectives() map[string]string {
	out := make(map[string]string)
	for _, d := range r.defs {
		if d.Directive != "" {
			out[d.ID] = d.Directive
		}
	}
	return out
}
