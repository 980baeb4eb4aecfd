package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolNames(r *Registry, perms Permissions) []string {
	var names []string
	for _, spec := range r.ListTools(perms) {
		names = append(names, spec.Name)
	}
	return names
}

func TestListToolsFiltersByPermission(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name  string
		perms Permissions
		want  []string
	}{
		{"none", Permissions{}, []string{"read_file", "list_files"}},
		{"create file only", Permissions{CreateFile: true}, []string{"create_file", "read_file", "list_files"}},
		{"delete and folder", Permissions{CreateFolder: true, DeleteFile: true}, []string{"create_folder", "delete_file", "read_file", "list_files"}},
		{"all", AllPermissions(), []string{"create_folder", "create_file", "edit_file", "delete_file", "read_file", "list_files"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toolNames(r, tt.perms))
		})
	}
}

func TestToolSpecSchema(t *testing.T) {
	def, ok := DefaultRegistry().Lookup(CreateFileToolName)
	require.True(t, ok)

	spec := def.Spec()
	assert.Equal(t, "create_file", spec.Name)
	assert.Contains(t, spec.Description, "Creates a new file")
	assert.Equal(t, "object", spec.Schema["type"])
	assert.Equal(t, []string{"path", "name", "content"}, spec.Schema["required"])

	props, ok := spec.Schema["properties"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, props, 3)
	content := props["content"].(map[string]interface{})
	assert.Equal(t, "string", content["type"])
}

func TestAllowed(t *testing.T) {
	r := DefaultRegistry()
	assert.True(t, r.Allowed(ReadFileToolName, Permissions{}))
	assert.False(t, r.Allowed(DeleteFileToolName, Permissions{}))
	assert.True(t, r.Allowed(DeleteFileToolName, Permissions{DeleteFile: true}))
	assert.False(t, r.Allowed("rm_rf", AllPermissions()))
}

func TestLoadRegistryRejectsDuplicates(t *testing.T) {
	_, err := LoadRegistry([]byte(`
tools:
  - name: read_file
  - name: read_file
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParsePermissions(t *testing.T) {
	p, err := ParsePermissions([]string{"createFile,edit_file"})
	require.NoError(t, err)
	assert.Equal(t, Permissions{CreateFile: true, EditFile: true}, p)

	p, err = ParsePermissions([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, AllPermissions(), p)

	_, err = ParsePermissions([]string{"format_disk"})
	require.Error(t, err)
}
