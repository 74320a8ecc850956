package snippet

import (
	"regexp"
	"strings"
)

var (
	// A complete import declaration at the start of a (trimmed) line.
	importDecl = regexp.MustCompile(`^import\s*(?:type\s+)?(?:[\w$*{}\s,]+?\s*from\s*)?(?:'[^']*'|"[^"]*")\s*;?`)
	// The opening line of an import whose binding list spans lines.
	importOpen = regexp.MustCompile(`^import\s*(?:type\s+)?(?:[\w$]+\s*,\s*)?\{[^}]*$`)
	// The line that closes a multi-line import.
	importClose = regexp.MustCompile(`^[^'"]*\}\s*from\s*(?:'[^']*'|"[^"]*")\s*;?`)
)

// StripImports removes import declarations that begin a line. Statements that
// follow an import on the same line are kept. Removed lines are replaced by
// empty lines so positions in the remaining code still match the input.
func StripImports(source string) string {
	lines := strings.Split(source, "\n")
	inImport := false
	for i, line := range lines {
		if inImport {
			m := importClose.FindStringIndex(line)
			if m == nil {
				lines[i] = ""
				continue
			}
			inImport = false
			line = strings.TrimLeft(line[m[1]:], " \t")
			lines[i] = line
			// fall through: the rest of the line may start another import
		}
		rest := strings.TrimLeft(line, " \t")
		stripped := false
		for {
			m := importDecl.FindStringIndex(rest)
			if m == nil {
				break
			}
			rest = strings.TrimLeft(rest[m[1]:], " \t")
			stripped = true
		}
		if importOpen.MatchString(strings.TrimRight(rest, " \t\r")) {
			inImport = true
			lines[i] = ""
			continue
		}
		if stripped {
			lines[i] = rest
		}
	}
	return strings.Join(lines, "\n")
}
