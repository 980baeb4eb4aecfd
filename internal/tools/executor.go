package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	diff "github.com/shogoki/gotextdiff"

	"github.com/samsaffron/skillshub/internal/llm"
)

// maxDiffSize bounds the content size for which edit_file reports a diff.
const maxDiffSize = 256 * 1024

// ExecutorOptions binds an executor to one request.
type ExecutorOptions struct {
	// Workspace is the root relative paths resolve against. Empty means
	// paths are used as given.
	Workspace      string
	Permissions    Permissions
	CreateFileMode CreateFileMode
	// Deny lists doublestar globs of resolved paths no tool may touch.
	Deny []string
	FS   FileSystem
}

// Executor runs tool calls. It never returns an error; every failure is
// an unsuccessful llm.ToolResult.
type Executor struct {
	registry *Registry
	opts     ExecutorOptions
	deny     *denyPolicy
}

func NewExecutor(registry *Registry, opts ExecutorOptions) (*Executor, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if opts.FS == nil {
		opts.FS = OSFileSystem{}
	}
	if opts.CreateFileMode == "" {
		opts.CreateFileMode = CreateFileOverwrite
	}
	deny, err := newDenyPolicy(opts.Deny)
	if err != nil {
		return nil, err
	}
	return &Executor{registry: registry, opts: opts, deny: deny}, nil
}

// Execute runs call and reports the outcome.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) (result llm.ToolResult) {
	logger := zerolog.Ctx(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("tool", call.Name).Msg("tool panicked")
			result = failure(call, NewToolErrorf(ErrExecutionFailed, "%v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failure(call, NewToolError(ErrExecutionFailed, err.Error()))
	}
	if _, ok := e.registry.Lookup(call.Name); !ok {
		return failure(call, NewToolErrorf(ErrUnknownTool, "Unknown tool: %s", call.Name))
	}
	if !e.registry.Allowed(call.Name, e.opts.Permissions) {
		return failure(call, NewToolErrorf(ErrPermissionDenied, "Permission denied: %s is not enabled", call.Name))
	}

	args, toolErr := parseArgs(call.Arguments)
	if toolErr != nil {
		return failure(call, toolErr)
	}

	var (
		message string
		data    map[string]any
	)
	switch call.Name {
	case CreateFolderToolName:
		message, data, toolErr = e.createFolder(args)
	case CreateFileToolName:
		message, data, toolErr = e.createFile(args)
	case EditFileToolName:
		message, data, toolErr = e.editFile(args)
	case DeleteFileToolName:
		message, data, toolErr = e.deleteFile(args)
	case ReadFileToolName:
		message, data, toolErr = e.readFile(args)
	case ListFilesToolName:
		message, data, toolErr = e.listFiles(args)
	default:
		toolErr = NewToolErrorf(ErrUnknownTool, "Unknown tool: %s", call.Name)
	}
	if toolErr != nil {
		logger.Debug().Str("tool", call.Name).Str("error_type", string(toolErr.Type)).Msg(toolErr.Message)
		return failure(call, toolErr)
	}
	return llm.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Success:    true,
		Message:    message,
		Data:       data,
	}
}

func failure(call llm.ToolCall, err *ToolError) llm.ToolResult {
	return llm.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Success:    false,
		Error:      err.Message,
		ErrorType:  string(err.Type),
	}
}

type toolArgs map[string]json.RawMessage

func parseArgs(raw json.RawMessage) (toolArgs, *ToolError) {
	args := toolArgs{}
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, NewToolErrorf(ErrInvalidParams, "invalid arguments: %v", err)
	}
	return args, nil
}

// requireString returns a required, non-empty string argument.
func (a toolArgs) requireString(name string) (string, *ToolError) {
	raw, ok := a[name]
	if !ok || string(raw) == "null" {
		return "", NewToolErrorf(ErrInvalidParams, "missing required parameter: %s", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "parameter %s must be a string", name)
	}
	if s == "" {
		return "", NewToolErrorf(ErrInvalidParams, "parameter %s must not be empty", name)
	}
	return s, nil
}

// content returns a string argument that may be empty. present is false
// when it is absent.
func (a toolArgs) content(name string) (value string, present bool, err *ToolError) {
	raw, ok := a[name]
	if !ok || string(raw) == "null" {
		return "", false, nil
	}
	if jerr := json.Unmarshal(raw, &value); jerr != nil {
		return "", true, NewToolErrorf(ErrInvalidParams, "parameter %s must be a string", name)
	}
	return value, true, nil
}

// resolve maps p onto the workspace and applies the deny policy.
func (e *Executor) resolve(p string) (string, *ToolError) {
	resolved := ResolvePath(e.opts.Workspace, p)
	if pattern := e.deny.Denied(resolved); pattern != "" {
		return "", NewToolErrorf(ErrPermissionDenied, "Permission denied: %s matches %s", resolved, pattern)
	}
	return resolved, nil
}

func execFailed(err error) *ToolError {
	return NewToolError(ErrExecutionFailed, err.Error())
}

func (e *Executor) createFolder(args toolArgs) (string, map[string]any, *ToolError) {
	base, terr := args.requireString("path")
	if terr != nil {
		return "", nil, terr
	}
	name, terr := args.requireString("name")
	if terr != nil {
		return "", nil, terr
	}
	folder, terr := e.resolve(filepath.Join(base, name))
	if terr != nil {
		return "", nil, terr
	}
	if !e.opts.FS.Exists(folder) {
		if err := e.opts.FS.MkdirAll(folder); err != nil {
			return "", nil, execFailed(err)
		}
	}
	return fmt.Sprintf("Folder created: %s", folder), map[string]any{"path": folder}, nil
}

func (e *Executor) createFile(args toolArgs) (string, map[string]any, *ToolError) {
	base, terr := args.requireString("path")
	if terr != nil {
		return "", nil, terr
	}
	name, terr := args.requireString("name")
	if terr != nil {
		return "", nil, terr
	}
	content, _, terr := args.content("content")
	if terr != nil {
		return "", nil, terr
	}
	file, terr := e.resolve(filepath.Join(base, name))
	if terr != nil {
		return "", nil, terr
	}
	if e.opts.CreateFileMode == CreateFileFail && e.opts.FS.Exists(file) {
		return "", nil, NewToolErrorf(ErrAlreadyExists, "File already exists: %s", file)
	}
	dir := filepath.Dir(file)
	if !e.opts.FS.Exists(dir) {
		if err := e.opts.FS.MkdirAll(dir); err != nil {
			return "", nil, execFailed(err)
		}
	}
	if err := e.opts.FS.WriteFile(file, []byte(content)); err != nil {
		return "", nil, execFailed(err)
	}
	return fmt.Sprintf("File created: %s", file), map[string]any{"path": file}, nil
}

func (e *Executor) editFile(args toolArgs) (string, map[string]any, *ToolError) {
	p, terr := args.requireString("path")
	if terr != nil {
		return "", nil, terr
	}
	content, present, terr := args.content("content")
	if terr != nil {
		return "", nil, terr
	}
	if !present {
		return "", nil, NewToolError(ErrInvalidParams, "missing required parameter: content")
	}
	file, terr := e.resolve(p)
	if terr != nil {
		return "", nil, terr
	}
	if !e.opts.FS.Exists(file) {
		return "", nil, NewToolErrorf(ErrFileNotFound, "File not found: %s", file)
	}
	if e.opts.FS.IsDir(file) {
		return "", nil, NewToolErrorf(ErrInvalidParams, "Not a file: %s", file)
	}
	old, err := e.opts.FS.ReadFile(file)
	if err != nil {
		return "", nil, execFailed(err)
	}
	if err := e.opts.FS.WriteFile(file, []byte(content)); err != nil {
		return "", nil, execFailed(err)
	}
	data := map[string]any{"path": file}
	if len(old) < maxDiffSize && len(content) < maxDiffSize {
		if d := diff.Diff(file, old, file, []byte(content)); len(d) > 0 {
			data["diff"] = string(d)
		}
	}
	return fmt.Sprintf("File updated: %s", file), data, nil
}

func (e *Executor) deleteFile(args toolArgs) (string, map[string]any, *ToolError) {
	p, terr := args.requireString("path")
	if terr != nil {
		return "", nil, terr
	}
	target, terr := e.resolve(p)
	if terr != nil {
		return "", nil, terr
	}
	if !e.opts.FS.Exists(target) {
		return "", nil, NewToolErrorf(ErrFileNotFound, "Path not found: %s", target)
	}
	if target == filepath.Clean(e.opts.Workspace) {
		return "", nil, NewToolErrorf(ErrPermissionDenied, "Permission denied: refusing to delete the workspace root %s", target)
	}
	if err := e.opts.FS.RemoveAll(target); err != nil {
		return "", nil, execFailed(err)
	}
	return fmt.Sprintf("Deleted: %s", target), map[string]any{"path": target}, nil
}

func (e *Executor) readFile(args toolArgs) (string, map[string]any, *ToolError) {
	p, terr := args.requireString("path")
	if terr != nil {
		return "", nil, terr
	}
	file, terr := e.resolve(p)
	if terr != nil {
		return "", nil, terr
	}
	if !e.opts.FS.Exists(file) {
		return "", nil, NewToolErrorf(ErrFileNotFound, "File not found: %s", file)
	}
	if e.opts.FS.IsDir(file) {
		return "", nil, NewToolErrorf(ErrInvalidParams, "Not a file: %s", file)
	}
	content, err := e.opts.FS.ReadFile(file)
	if err != nil {
		return "", nil, execFailed(err)
	}
	return fmt.Sprintf("Read file: %s", file), map[string]any{"content": string(content)}, nil
}

func (e *Executor) listFiles(args toolArgs) (string, map[string]any, *ToolError) {
	p, terr := args.requireString("path")
	if terr != nil {
		return "", nil, terr
	}
	dir, terr := e.resolve(p)
	if terr != nil {
		return "", nil, terr
	}
	if !e.opts.FS.Exists(dir) {
		return "", nil, NewToolErrorf(ErrFileNotFound, "Directory not found: %s", dir)
	}
	files, folders, err := e.opts.FS.ListDir(dir)
	if err != nil {
		return "", nil, execFailed(err)
	}
	msg := fmt.Sprintf("Listed %d files and %d folders", len(files), len(folders))
	return msg, map[string]any{"files": files, "folders": folders}, nil
}
