// Package validate centralizes the input validation every Mahavishnu
// subsystem relies on: repository paths accepted into a Task, the
// identifiers stamped onto Task/Workflow/Saga records, and secret
// references that may ride along inside Task.Params without ever being
// logged in the clear.
package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds Task.ID, Task.Type, and engine names.
const MaxIdentifierLength = 256

var (
	// ErrInvalidPath indicates a repository path is empty, escapes its
	// root, or does not exist.
	ErrInvalidPath = errors.New("validate: invalid repository path")

	// ErrNotAGitRepo indicates the resolved path has no .git subdirectory.
	ErrNotAGitRepo = errors.New("validate: not a git repository")

	// ErrInvalidIdentifier indicates an identifier is empty, too long, or
	// contains characters outside the allowed set.
	ErrInvalidIdentifier = errors.New("validate: invalid identifier")

	// ErrInvalidSecretRef indicates a string is not a well-formed
	// "secretref:<provider>:<ref>" reference.
	ErrInvalidSecretRef = errors.New("validate: invalid secret reference")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// ValidateRepoPath resolves path under root and rejects anything that
// escapes root, does not exist, or is not a git working tree. root and
// path are both resolved to absolute form before comparison so that
// "../../etc" style escapes are caught regardless of how path is
// written.
func ValidateRepoPath(root, path string) error {
	if strings.TrimSpace(root) == "" || strings.TrimSpace(path) == "" {
		return ErrInvalidPath
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%w: resolve root: %v", ErrInvalidPath, err)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absRoot, candidate)
	}
	absPath, err := filepath.Abs(candidate)
	if err != nil {
		return fmt.Errorf("%w: resolve path: %v", ErrInvalidPath, err)
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q escapes root %q", ErrInvalidPath, path, root)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalidPath, absPath)
	}

	gitDir := filepath.Join(absPath, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		return fmt.Errorf("%w: %q", ErrNotAGitRepo, absPath)
	}

	return nil
}

// ValidateIdentifier enforces the identifier shape required for
// Task.ID, Task.Type, and engine names: non-empty, only ASCII letters,
// digits, '_', '.' and '-', starting with an alphanumeric, and bounded
// in length.
func ValidateIdentifier(s string) error {
	if s == "" {
		return ErrInvalidIdentifier
	}
	if len(s) > MaxIdentifierLength {
		return fmt.Errorf("%w: %d bytes exceeds max %d", ErrInvalidIdentifier, len(s), MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return nil
}

// SecretProvider resolves a secret by reference string, analogous to
// the teacher's Provider shape: implementations must be safe for
// concurrent use and must never log the resolved value.
type SecretProvider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

// SecretRef is an unresolved secret reference of the form
// "secretref:<provider>:<ref>" accepted inside Task.Params. It carries
// only the reference string; the value is resolved lazily, by name,
// immediately before an adapter call, and is never retained on the
// struct or logged.
type SecretRef struct {
	provider string
	ref      string
}

// ParseSecretRef parses "secretref:<provider>:<ref>" into a SecretRef.
func ParseSecretRef(s string) (SecretRef, error) {
	const prefix = "secretref:"
	if !strings.HasPrefix(s, prefix) {
		return SecretRef{}, ErrInvalidSecretRef
	}
	parts := strings.SplitN(strings.TrimPrefix(s, prefix), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SecretRef{}, ErrInvalidSecretRef
	}
	return SecretRef{provider: parts[0], ref: parts[1]}, nil
}

// Provider returns the named provider the reference targets.
func (s SecretRef) Provider() string { return s.provider }

// String implements fmt.Stringer without ever exposing a resolved
// value — only the unresolved reference is printable.
func (s SecretRef) String() string {
	return fmt.Sprintf("secretref:%s:%s", s.provider, s.ref)
}

// Resolve looks up provider by name in providers and resolves the
// reference through it. Resolution failures are never wrapped with the
// reference's resolved value.
func (s SecretRef) Resolve(ctx context.Context, providers map[string]SecretProvider) (string, error) {
	provider, ok := providers[s.provider]
	if !ok || provider == nil {
		return "", fmt.Errorf("validate: secret provider %q is not registered", s.provider)
	}
	return provider.Resolve(ctx, s.ref)
}
