package tools

import (
	_ "embed"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/skillshub/internal/llm"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Permissions gates the mutating tools. read_file and list_files are
// always available.
type Permissions struct {
	CreateFolder bool `json:"createFolder" yaml:"createFolder"`
	CreateFile   bool `json:"createFile" yaml:"createFile"`
	EditFile     bool `json:"editFile" yaml:"editFile"`
	DeleteFile   bool `json:"deleteFile" yaml:"deleteFile"`
}

// AllPermissions enables every tool.
func AllPermissions() Permissions {
	return Permissions{CreateFolder: true, CreateFile: true, EditFile: true, DeleteFile: true}
}

// PermissionNames lists the permission names ParsePermissions accepts.
func PermissionNames() []string {
	return []string{"createFolder", "createFile", "editFile", "deleteFile"}
}

// ParsePermissions reads a list such as "createFile,editFile". "all"
// enables everything.
func ParsePermissions(names []string) (Permissions, error) {
	var p Permissions
	for _, raw := range names {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if strings.EqualFold(name, "all") {
				return AllPermissions(), nil
			}
			if !p.set(name, true) {
				return Permissions{}, errors.Errorf("unknown permission %q", name)
			}
		}
	}
	return p, nil
}

func (p *Permissions) set(name string, v bool) bool {
	switch strings.ToLower(name) {
	case "createfolder", "create_folder":
		p.CreateFolder = v
	case "createfile", "create_file":
		p.CreateFile = v
	case "editfile", "edit_file":
		p.EditFile = v
	case "deletefile", "delete_file":
		p.DeleteFile = v
	default:
		return false
	}
	return true
}

// granted reports the flag named by a catalog permission tag.
func (p Permissions) granted(tag string) bool {
	switch tag {
	case "":
		return true
	case "createFolder":
		return p.CreateFolder
	case "createFile":
		return p.CreateFile
	case "editFile":
		return p.EditFile
	case "deleteFile":
		return p.DeleteFile
	default:
		return false
	}
}

// Param describes one tool argument.
type Param struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// Definition is one catalog entry.
type Definition struct {
	Name        string  `yaml:"name"`
	Permission  string  `yaml:"permission"`
	Description string  `yaml:"description"`
	Params      []Param `yaml:"params"`
}

// Spec renders the definition as a provider tool spec.
func (d Definition) Spec() llm.ToolSpec {
	props := make(map[string]interface{}, len(d.Params))
	required := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		props[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return llm.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		Schema: map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// Registry is the read-only tool catalog.
type Registry struct {
	defs   []Definition
	byName map[string]Definition
}

// LoadRegistry parses a catalog document.
func LoadRegistry(data []byte) (*Registry, error) {
	var doc struct {
		Tools []Definition `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse tool catalog")
	}
	r := &Registry{byName: make(map[string]Definition, len(doc.Tools))}
	for _, def := range doc.Tools {
		if def.Name == "" {
			return nil, errors.New("tool catalog entry without a name")
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, errors.Errorf("duplicate tool %q in catalog", def.Name)
		}
		r.defs = append(r.defs, def)
		r.byName[def.Name] = def
	}
	return r, nil
}

var defaultRegistry = mustLoadDefault()

func mustLoadDefault() *Registry {
	r, err := LoadRegistry(catalogYAML)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry returns the embedded catalog.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// ListTools returns the specs allowed by perms, in catalog order.
func (r *Registry) ListTools(perms Permissions) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.defs))
	for _, def := range r.defs {
		if perms.granted(def.Permission) {
			specs = append(specs, def.Spec())
		}
	}
	return specs
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Allowed reports whether name exists and perms grant it.
func (r *Registry) Allowed(name string, perms Permissions) bool {
	def, ok := r.byName[name]
	return ok && perms.granted(def.Permission)
}
