// Package tools provides the permission-gated file tools offered to the
// model and the executor that runs them against a workspace.
package tools

import (
	"fmt"
)

// ToolErrorType classifies executor failures.
type ToolErrorType string

const (
	ErrFileNotFound     ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams    ToolErrorType = "INVALID_PARAMS"
	ErrPermissionDenied ToolErrorType = "PERMISSION_DENIED"
	ErrExecutionFailed  ToolErrorType = "EXECUTION_FAILED"
	ErrAlreadyExists    ToolErrorType = "ALREADY_EXISTS"
	ErrUnknownTool      ToolErrorType = "UNKNOWN_TOOL"
)

// ToolError is a failure reported back to the model as an unsuccessful
// result.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return e.Message
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Tool names
const (
	CreateFolderToolName = "create_folder"
	CreateFileToolName   = "create_file"
	EditFileToolName     = "edit_file"
	DeleteFileToolName   = "delete_file"
	ReadFileToolName     = "read_file"
	ListFilesToolName    = "list_files"
)

// CreateFileMode decides what create_file does when the target exists.
type CreateFileMode string

const (
	CreateFileOverwrite CreateFileMode = "overwrite"
	CreateFileFail      CreateFileMode = "fail"
)

// ParseCreateFileMode maps a config value to a mode; empty means
// overwrite.
func ParseCreateFileMode(s string) (CreateFileMode, error) {
	switch CreateFileMode(s) {
	case "", CreateFileOverwrite:
		return CreateFileOverwrite, nil
	case CreateFileFail:
		return CreateFileFail, nil
	default:
		return "", fmt.Errorf("invalid create_file mode %q (want overwrite or fail)", s)
	}
}
