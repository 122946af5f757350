package matcher

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/steveyegge/vigil/internal/types"
)

var (
	evalCallRegex  = regexp.MustCompile(`\beval\s*\(`)
	sqlConcatRegex = regexp.MustCompile("(?i)\\b(SELECT|INSERT|UPDATE|DELETE)\\b.*['\"`]\\s*\\+")
	markupRegex    = regexp.MustCompile(`\.(innerHTML|outerHTML)\s*=[^=]|\bdocument\.write(ln)?\s*\(`)

	braceLoopRegex = regexp.MustCompile(`^\s*for\b|\b(for|while)\s*\(|\.(forEach|map|filter|reduce)\s*\(`)
	pyLoopRegex    = regexp.MustCompile(`^\s*(for\s+.+\s+in\s+.+|while\s+.+):\s*(#.*)?$`)

	propertyChainRegex = regexp.MustCompile(`\b[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*){2,}`)
	safeChainPrefixes  = []string{"console.", "Math.", "JSON.", "Object.", "Array.", "Promise.",
		"Number.", "String.", "Date.", "process.env.", "module.exports", "this.", "window.", "document."}

	asyncFuncDeclRegex   = regexp.MustCompile(`\basync\s+function\s*\*?\s*([A-Za-z_$][\w$]*)`)
	asyncArrowDeclRegex  = regexp.MustCompile(`\b(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*async\b`)
	asyncMethodDeclRegex = regexp.MustCompile(`^\s*(?:static\s+)?async\s+([A-Za-z_$][\w$]*)\s*\(`)
	assignedCallRegex    = regexp.MustCompile(`\b(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*`)
)

var jsExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

var codeExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
	".py": true, ".go": true, ".rb": true, ".java": true, ".php": true,
}

var braceExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
	".go": true, ".java": true, ".php": true,
}

// hit is a heuristic match location (1-based line) and the offending source.
type hit struct {
	line    int
	snippet string
}

// detect runs the heuristic for a category over the file lines.
// Generic patterns are handled by similarity matching instead.
func detect(category types.IssueCategory, lines []string, path string) (hit, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch category {
	case types.CategoryDynamicEval:
		if codeExtensions[ext] {
			return firstLine(lines, evalCallRegex.MatchString)
		}
	case types.CategoryInjectionRisk:
		if codeExtensions[ext] {
			return firstLine(lines, sqlConcatRegex.MatchString)
		}
	case types.CategoryMarkupInjection:
		if jsExtensions[ext] || ext == ".html" {
			return firstLine(lines, markupRegex.MatchString)
		}
	case types.CategoryQuadraticLoop:
		if ext == ".py" {
			return nestedIndentLoop(lines)
		}
		if braceExtensions[ext] {
			return nestedBraceLoop(lines)
		}
	case types.CategoryNullDereference:
		if jsExtensions[ext] {
			return firstLine(lines, unguardedChain)
		}
	case types.CategoryMissingAsyncWait:
		if jsExtensions[ext] {
			return missingAwait(lines)
		}
	}
	return hit{}, false
}

func firstLine(lines []string, match func(string) bool) (hit, bool) {
	for i, line := range lines {
		if isCommentLine(line) {
			continue
		}
		if match(line) {
			return hit{line: i + 1, snippet: strings.TrimSpace(line)}, true
		}
	}
	return hit{}, false
}

func isCommentLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "//") || strings.HasPrefix(t, "#") ||
		strings.HasPrefix(t, "*") || strings.HasPrefix(t, "/*")
}

// nestedBraceLoop tracks brace depth and the body depth of every open loop.
// A loop that starts while another loop's body is open is nested.
func nestedBraceLoop(lines []string) (hit, bool) {
	depth := 0
	var open []int
	for i, line := range lines {
		if isCommentLine(line) {
			continue
		}
		for len(open) > 0 && open[len(open)-1] > depth {
			open = open[:len(open)-1]
		}

		loops := len(braceLoopRegex.FindAllStringIndex(line, -1))
		if loops > 0 && (len(open) > 0 || loops > 1) {
			return hit{line: i + 1, snippet: strings.TrimSpace(line)}, true
		}
		if loops > 0 {
			open = append(open, depth+1)
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}
	return hit{}, false
}

// nestedIndentLoop is nestedBraceLoop for indentation-scoped code.
func nestedIndentLoop(lines []string) (hit, bool) {
	var open []int
	for i, line := range lines {
		if strings.TrimSpace(line) == "" || isCommentLine(line) {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		for len(open) > 0 && open[len(open)-1] >= indent {
			open = open[:len(open)-1]
		}
		if pyLoopRegex.MatchString(line) {
			if len(open) > 0 {
				return hit{line: i + 1, snippet: strings.TrimSpace(line)}, true
			}
			open = append(open, indent)
		}
	}
	return hit{}, false
}

// unguardedChain reports property chains at least two accesses deep on a
// line with no optional chaining or && guard.
func unguardedChain(line string) bool {
	t := strings.TrimSpace(line)
	if strings.Contains(t, "?.") || strings.Contains(t, "&&") {
		return false
	}
	if strings.HasPrefix(t, "import ") || strings.HasPrefix(t, "export ") ||
		strings.Contains(t, "require(") || strings.HasPrefix(t, "if (") {
		return false
	}
	for _, loc := range propertyChainRegex.FindAllStringIndex(t, -1) {
		chain := t[loc[0]:loc[1]]
		if inStringLiteral(t, loc[0]) || writesTo(t[loc[1]:]) {
			continue
		}
		safe := false
		for _, prefix := range safeChainPrefixes {
			if strings.HasPrefix(chain, prefix) || chain+"." == prefix {
				safe = true
				break
			}
		}
		if !safe {
			return true
		}
	}
	return false
}

var updateOpRegex = regexp.MustCompile(`^\s*(\+\+|--|=[^=>]|=$|(\*\*|<<|>>>|>>|&&|\|\||\?\?|[-+*/%&|^])=)`)

// writesTo reports whether the text following a chain assigns to or updates it.
func writesTo(rest string) bool {
	return updateOpRegex.MatchString(rest)
}

// inStringLiteral reports whether pos falls inside a quoted string on the line.
func inStringLiteral(line string, pos int) bool {
	var quote byte
	for i := 0; i < pos && i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && (c == '"' || c == '\'' || c == '`'):
			quote = c
		}
	}
	return quote != 0
}

// missingAwait finds calls of same-file async functions whose result is
// neither awaited, returned nor chained. When the promise is assigned, an
// await of that variable within the next five lines counts as handled.
func missingAwait(lines []string) (hit, bool) {
	names := map[string]bool{}
	for _, line := range lines {
		for _, re := range []*regexp.Regexp{asyncFuncDeclRegex, asyncArrowDeclRegex, asyncMethodDeclRegex} {
			if m := re.FindStringSubmatch(line); m != nil {
				names[m[1]] = true
			}
		}
	}
	if len(names) == 0 {
		return hit{}, false
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	calls := make([]*regexp.Regexp, len(sorted))
	for i, name := range sorted {
		calls[i] = regexp.MustCompile(`(^|[^\w$.])` + regexp.QuoteMeta(name) + `\s*\(`)
	}

	for i, line := range lines {
		if isCommentLine(line) || strings.Contains(line, "async") {
			continue
		}
		if strings.Contains(line, "await") || strings.Contains(line, "return") ||
			strings.Contains(line, ".then(") || strings.Contains(line, ".catch(") ||
			strings.Contains(line, "Promise.") || strings.Contains(line, "yield") {
			continue
		}
		for j, call := range calls {
			if !call.MatchString(line) || strings.Contains(line, "function "+sorted[j]) {
				continue
			}
			if m := assignedCallRegex.FindStringSubmatch(line); m != nil && awaitedLater(lines, i, m[1]) {
				continue
			}
			return hit{line: i + 1, snippet: strings.TrimSpace(line)}, true
		}
	}
	return hit{}, false
}

func awaitedLater(lines []string, from int, variable string) bool {
	re := regexp.MustCompile(`\bawait\s+` + regexp.QuoteMeta(variable) + `\b`)
	for j := from + 1; j < len(lines) && j <= from+5; j++ {
		if re.MatchString(lines[j]) {
			return true
		}
	}
	return false
}

// similarity is 1 - editDistance/maxLen over normalized text.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := len([]rune(a)), len([]rune(b))
	longest := ra
	if rb > longest {
		longest = rb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// similarWindow slides a window the height of the snippet over the file and
// returns the best window scoring above threshold.
func similarWindow(lines []string, snippet string, threshold float64, maxLines int) (hit, float64, bool) {
	target := types.NormalizeSnippet(snippet)
	if target == "" {
		return hit{}, 0, false
	}
	height := strings.Count(strings.TrimSpace(snippet), "\n") + 1
	targetLen := len([]rune(target))

	best, bestScore := hit{}, 0.0
	limit := len(lines)
	if maxLines > 0 && limit > maxLines {
		limit = maxLines
	}
	for i := 0; i+height <= limit; i++ {
		window := types.NormalizeSnippet(strings.Join(lines[i:i+height], "\n"))
		if window == "" {
			continue
		}
		// similarity can never exceed the length ratio
		wl := len([]rune(window))
		shorter, longer := wl, targetLen
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		if float64(shorter)/float64(longer) <= threshold {
			continue
		}
		if score := similarity(window, target); score > threshold && score > bestScore {
			best = hit{line: i + 1, snippet: strings.TrimSpace(strings.Join(lines[i:i+height], "\n"))}
			bestScore = score
		}
	}
	return best, bestScore, bestScore > 0
}
