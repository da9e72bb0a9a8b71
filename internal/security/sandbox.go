package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpchat/internal/domain"
)

// Sandbox confines file operations to a set of root directories. The first
// root is the working root: relative paths resolve against it.
type Sandbox struct {
	roots []string // absolute, symlink-resolved
}

// NewSandbox creates a sandbox over the given roots. At least one is required
// and each must be an existing directory.
func NewSandbox(roots ...string) (*Sandbox, error) {
	if len(roots) == 0 {
		return nil, errors.New("sandbox needs at least one root")
	}
	s := &Sandbox{}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve sandbox root %q: %w", root, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("eval symlinks for sandbox root %q: %w", root, err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("stat sandbox root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
		}
		s.roots = append(s.roots, resolved)
	}
	return s, nil
}

// ValidatePath resolves requested (relative to the working root when not
// absolute) and checks that the result, symlinks followed, lies inside one of
// the roots. Paths that do not exist yet are checked through their nearest
// existing ancestor.
func (s *Sandbox) ValidatePath(requested string) (string, error) {
	const op = "Sandbox.ValidatePath"

	if requested == "" || requested == "." {
		return s.roots[0], nil
	}
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(s.roots[0], requested)
	}
	abs := filepath.Clean(requested)

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", domain.NewDomainError(op, domain.ErrPathOutsideSandbox, err.Error())
	}
	if !s.contains(resolved) {
		return "", domain.NewDomainError(op, domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside the allowed roots", resolved))
	}
	return resolved, nil
}

// resolveExisting follows symlinks in the longest existing prefix of path and
// re-appends the missing tail.
func resolveExisting(path string) (string, error) {
	var tail []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// Root returns the working root.
func (s *Sandbox) Root() string { return s.roots[0] }

// Roots returns every allowed root.
func (s *Sandbox) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

func (s *Sandbox) contains(path string) bool {
	for _, root := range s.roots {
		if path == root || strings.HasPrefix(path, strings.TrimSuffix(root, string(os.PathSeparator))+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
