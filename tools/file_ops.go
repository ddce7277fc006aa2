package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/rheo/types"
)

const (
	defaultMaxFileSize    int64       = 1 << 20
	defaultCreateFileMode os.FileMode = 0o644
)

// FileOpsOption configures FileOps.
type FileOpsOption func(*FileOps)

// WithAllowedDirs sets the directories the tool may touch. Defaults to the
// working directory.
func WithAllowedDirs(dirs ...string) FileOpsOption {
	return func(f *FileOps) { f.allowed = append([]string(nil), dirs...) }
}

// WithMaxFileSize caps how many bytes a read returns.
func WithMaxFileSize(n int64) FileOpsOption {
	return func(f *FileOps) { f.maxFileSize = n }
}

// WithCreateFileMode sets the permission of newly written files.
func WithCreateFileMode(m os.FileMode) FileOpsOption {
	return func(f *FileOps) { f.fileMode = m }
}

// FileOps reads and writes text files confined to a set of directories.
// Input comes in args["tool_input"] as "read:<path>" or
// "write:<path>:<content>". Access outside the allowed directories fails
// with a PERMISSION_DENIED *types.Error.
type FileOps struct {
	allowed     []string
	maxFileSize int64
	fileMode    os.FileMode
}

// NewFileOps creates the tool. Allowed directories must exist.
func NewFileOps(opts ...FileOpsOption) (*FileOps, error) {
	f := &FileOps{maxFileSize: defaultMaxFileSize, fileMode: defaultCreateFileMode}
	for _, opt := range opts {
		opt(f)
	}
	if len(f.allowed) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		f.allowed = []string{wd}
	}
	for i, dir := range f.allowed {
		resolved, err := canonical(dir)
		if err != nil {
			return nil, fmt.Errorf("allowed directory '%s': %w", dir, err)
		}
		stat, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("allowed directory '%s' does not exist: %w", dir, err)
		}
		if !stat.IsDir() {
			return nil, fmt.Errorf("allowed directory '%s' is not a directory", dir)
		}
		f.allowed[i] = resolved
	}
	return f, nil
}

func (f *FileOps) Name() string { return "file_ops" }

func (f *FileOps) Description() string {
	return "Read or write files. Input format: 'read:path' or 'write:path:content'"
}

// Run executes one read or write.
func (f *FileOps) Run(ctx context.Context, args map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	input, ok := args["tool_input"].(string)
	if !ok {
		return "", types.NewError(types.ErrInvalidInput, "expected 'tool_input' as a string")
	}
	parts := strings.SplitN(input, ":", 3)
	if len(parts) < 2 {
		return "", types.NewError(types.ErrInvalidInput, "invalid input format, expected 'operation:path'")
	}
	op := strings.TrimSpace(parts[0])
	rawPath := strings.TrimSpace(parts[1])

	path, err := f.resolve(rawPath)
	if err != nil {
		return "", err
	}

	switch op {
	case "read":
		return f.read(path)
	case "write":
		if len(parts) < 3 {
			return "", types.NewError(types.ErrInvalidInput, "content is required for write operation")
		}
		return f.write(path, parts[2])
	default:
		return "", types.Errorf(types.ErrInvalidInput, "unknown operation '%s', supported: 'read', 'write'", op)
	}
}

// resolve returns the canonical path when it lies inside an allowed dir.
func (f *FileOps) resolve(raw string) (string, error) {
	if raw == "" {
		return "", types.NewError(types.ErrInvalidInput, "path is required")
	}
	target, err := canonical(raw)
	if err != nil {
		return "", types.Errorf(types.ErrInvalidInput, "resolve '%s'", raw).WithCause(err)
	}
	for _, dir := range f.allowed {
		if within(dir, target) {
			return target, nil
		}
	}
	return "", types.Errorf(types.ErrPermissionDenied,
		"access to '%s' is denied, path is not within allowed directories %v", raw, f.allowed).
		WithComponent("file_ops")
}

func (f *FileOps) read(path string) (string, error) {
	stat, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", types.Errorf(types.ErrNotFound, "file '%s' not found", path)
	}
	if err != nil {
		return "", fmt.Errorf("stat '%s': %w", path, err)
	}
	if stat.IsDir() {
		return "", types.Errorf(types.ErrInvalidInput, "'%s' is a directory", path)
	}
	if stat.Size() > f.maxFileSize {
		return "", types.Errorf(types.ErrInvalidInput, "file '%s' is %d bytes, limit is %d", path, stat.Size(), f.maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading file: %w", err)
	}
	return string(data), nil
}

func (f *FileOps) write(path, content string) (string, error) {
	if err := os.WriteFile(path, []byte(content), f.fileMode); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}
	return fmt.Sprintf("Successfully wrote to '%s'.", path), nil
}

// canonical makes p absolute and resolves symlinks of its longest existing
// prefix, so links cannot point out of an allowed directory.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	existing := abs
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}

func within(dir, target string) bool {
	if target == dir {
		return true
	}
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
