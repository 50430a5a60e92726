// Package pathutil implements parsing and normalising the virtual
// filesystem's forward-slash paths, independent of any entity or
// datastore concept. It is pure string manipulation -- no I/O -- in the
// same self-contained style as pkg/dsbase's home-dir expansion.
package pathutil

import (
	"strings"

	"github.com/brevitylabs/dsvfs/pkg/dsfault"
)

const Root = "/"
const Separator = "/"

// Normalize accepts '/' and '\' separators (the latter tolerated only for
// callers developing on Windows-like hosts) and returns the canonical
// absolute form: leading '/', no trailing '/' except the root itself,
// '.' and '..' collapsed, no empty components.
func Normalize(p string) (string, error) {
	if p == "" {
		return "", dsfault.New(dsfault.InvalidPath, "empty path")
	}
	unified := strings.ReplaceAll(strings.ReplaceAll(p, "\\", "/"), "//", "/")
	if !strings.HasPrefix(unified, "/") {
		return "", dsfault.Newf(dsfault.InvalidPath, "path %q is not absolute", p)
	}
	rawParts := strings.Split(unified, "/")
	var stack []string
	for _, part := range rawParts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return Root, nil
	}
	return "/" + strings.Join(stack, "/"), nil
}

// MustNormalize panics on malformed input; reserved for compile-time
// constant paths (e.g. Root) inside the engine itself.
func MustNormalize(p string) string {
	n, err := Normalize(p)
	if err != nil {
		panic(err)
	}
	return n
}

func IsAbsolute(p string) bool {
	return strings.HasPrefix(p, "/")
}

// Components returns the non-empty, normalised path segments; Components("/") is empty.
func Components(p string) ([]string, error) {
	norm, err := Normalize(p)
	if err != nil {
		return nil, err
	}
	if norm == Root {
		return nil, nil
	}
	return strings.Split(strings.TrimPrefix(norm, "/"), "/"), nil
}

// Parent returns the normalised parent path. Parent("/") is "/" (the root
// has no parent, per invariant 5; callers must check Equal(p, Root) first
// if they need to reject that case).
func Parent(p string) (string, error) {
	norm, err := Normalize(p)
	if err != nil {
		return "", err
	}
	if norm == Root {
		return Root, nil
	}
	idx := strings.LastIndex(norm, "/")
	if idx <= 0 {
		return Root, nil
	}
	return norm[:idx], nil
}

// BaseName returns the final path component; BaseName("/") is "".
func BaseName(p string) (string, error) {
	norm, err := Normalize(p)
	if err != nil {
		return "", err
	}
	if norm == Root {
		return "", nil
	}
	idx := strings.LastIndex(norm, "/")
	return norm[idx+1:], nil
}

// Join appends a child component onto a normalised parent path.
func Join(parent string, child string) (string, error) {
	normParent, err := Normalize(parent)
	if err != nil {
		return "", err
	}
	if child == "" {
		return "", dsfault.New(dsfault.InvalidPath, "empty child component")
	}
	if normParent == Root {
		return Normalize(Root + child)
	}
	return Normalize(normParent + "/" + child)
}

// Resolve returns other unchanged (normalised) if it is absolute;
// otherwise it concatenates other onto base.
func Resolve(base string, other string) (string, error) {
	unifiedOther := strings.ReplaceAll(other, "\\", "/")
	if IsAbsolute(unifiedOther) {
		return Normalize(unifiedOther)
	}
	normBase, err := Normalize(base)
	if err != nil {
		return "", err
	}
	if normBase == Root {
		return Normalize(Root + unifiedOther)
	}
	return Normalize(normBase + "/" + unifiedOther)
}

// Relativize returns the other path expressed relative to from, using '/'
// separators and no leading '/'. Both arguments must be absolute.
func Relativize(from string, to string) (string, error) {
	fromComps, err := Components(from)
	if err != nil {
		return "", err
	}
	toComps, err := Components(to)
	if err != nil {
		return "", err
	}
	common := 0
	for common < len(fromComps) && common < len(toComps) && fromComps[common] == toComps[common] {
		common++
	}
	var segments []string
	for i := common; i < len(fromComps); i++ {
		segments = append(segments, "..")
	}
	segments = append(segments, toComps[common:]...)
	return strings.Join(segments, "/"), nil
}

// Equal reports whether two path strings name the same file once
// normalised: two nodes are the same file iff their normalised absolute
// paths are equal.
func Equal(a, b string) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return na == nb
}

// IsParentOf reports whether child's parent path equals parent, used to
// validate invariant 3 (every child-key's parent-path matches its folder).
func IsParentOf(parent string, child string) bool {
	p, err := Parent(child)
	if err != nil {
		return false
	}
	return Equal(p, parent)
}

// HasPrefix is a byte-wise prefix test, not component-wise: "/ab" has
// prefix "/a". Callers that need component-aware containment (is p
// under the directory at prefix?) must append Separator to prefix
// themselves; see Node.Rename for the canonical example.
func HasPrefix(p string, prefix string) bool {
	return strings.HasPrefix(p, prefix)
}
