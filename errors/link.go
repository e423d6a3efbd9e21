package errors

import (
	"fmt"
	"strings"
)

// MissingImport represents a single unresolved or mismatched import
type MissingImport struct {
	Module string // e.g., "env"
	Name   string // e.g., "log_i32"
	Reason string // empty when nothing was provided under the name
}

// LinkError is returned when instantiation fails because imports could
// not be satisfied. It lists every failing import, not just the first.
type LinkError struct {
	Imports []MissingImport
}

// Add records one failing import.
func (e *LinkError) Add(module, name, reason string) {
	e.Imports = append(e.Imports, MissingImport{Module: module, Name: name, Reason: reason})
}

// demangleRust attempts to extract readable function name from mangled Rust symbol
func demangleRust(name string) string {
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	// _ZN<len><name><len><name>...E
	s := name[3:]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		digits := 0
		for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
			digits++
		}
		if digits == 0 {
			break
		}

		n := 0
		for _, c := range s[:digits] {
			n = n*10 + int(c-'0')
			if n > len(s) {
				break
			}
		}
		s = s[digits:]
		if n > len(s) {
			break
		}

		part := s[:n]
		s = s[n:]

		// hash suffix: 'h' followed by 16 hex digits
		if len(part) == 17 && part[0] == 'h' && isHex(part[1:]) {
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}
	return strings.Join(parts, "::")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (e *LinkError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[link] %d import(s) could not be satisfied:\n", len(e.Imports))

	byModule := make(map[string][]MissingImport)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byModule[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		byModule[imp.Module] = append(byModule[imp.Module], imp)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, imp := range byModule[mod] {
			b.WriteString("    - ")
			b.WriteString(demangleRust(imp.Name))
			if imp.Reason != "" {
				b.WriteString(" (")
				b.WriteString(imp.Reason)
				b.WriteByte(')')
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type. A LinkError also
// matches ErrLink and any link-phase missing_import Error.
func (e *LinkError) Is(target error) bool {
	switch t := target.(type) {
	case *LinkError:
		return true
	case *Error:
		return t.Phase == PhaseLink && (t.Kind == "" || t.Kind == KindMissingImport)
	}
	return false
}
