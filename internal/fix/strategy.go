package fix

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/steveyegge/vigil/internal/types"
)

// Strategy names a single-line source transform.
type Strategy string

const (
	StrategyDynamicEval    Strategy = "dynamic-eval"
	StrategySQLWarning     Strategy = "sql-warning"
	StrategyMarkupSink     Strategy = "markup-sink"
	StrategyLoopComment    Strategy = "loop-comment"
	StrategySafeNavigation Strategy = "safe-navigation"
	StrategyInsertAwait    Strategy = "insert-await"
	StrategyTryCatch       Strategy = "try-catch"
	StrategyCommentUnused  Strategy = "comment-unused"
	StrategyGenericComment Strategy = "generic-comment"
	StrategyNone           Strategy = "none"
)

// IsValid reports whether s names a known strategy other than None.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyDynamicEval, StrategySQLWarning, StrategyMarkupSink, StrategyLoopComment,
		StrategySafeNavigation, StrategyInsertAwait, StrategyTryCatch, StrategyCommentUnused,
		StrategyGenericComment:
		return true
	}
	return false
}

// categoryStrategies is total over the heuristic categories. Generic findings
// are resolved by selectGeneric.
var categoryStrategies = map[types.IssueCategory]Strategy{
	types.CategoryDynamicEval:      StrategyDynamicEval,
	types.CategoryInjectionRisk:    StrategySQLWarning,
	types.CategoryMarkupInjection:  StrategyMarkupSink,
	types.CategoryQuadraticLoop:    StrategyLoopComment,
	types.CategoryNullDereference:  StrategySafeNavigation,
	types.CategoryMissingAsyncWait: StrategyInsertAwait,
}

// minSuggestionLength is how long a suggestion must be before it is worth
// inserting as a comment.
const minSuggestionLength = 10

// SelectStrategy picks the transform for a finding. A strategy recorded on the
// finding's pattern wins; otherwise the category decides, and generic findings
// fall back to the suggestion text.
func SelectStrategy(f types.Finding) Strategy {
	if s := Strategy(f.FixStrategy); s.IsValid() {
		if s != StrategyGenericComment || len(strings.TrimSpace(f.Suggestion)) > minSuggestionLength {
			return s
		}
	}
	if s, ok := categoryStrategies[f.Category]; ok {
		return s
	}
	return selectGeneric(f)
}

func selectGeneric(f types.Finding) Strategy {
	text := strings.ToLower(f.Description + " " + f.Suggestion)
	switch {
	case strings.Contains(text, "error handling"), strings.Contains(text, "try-catch"),
		strings.Contains(text, "try/catch"), strings.Contains(text, "unhandled"):
		return StrategyTryCatch
	case strings.Contains(text, "unused"):
		return StrategyCommentUnused
	}
	if len(strings.TrimSpace(f.Suggestion)) > minSuggestionLength {
		return StrategyGenericComment
	}
	return StrategyNone
}

// Change describes one edit in human terms.
type Change struct {
	Line        int    `json:"line"`
	Old         string `json:"old"`
	New         string `json:"new"`
	Description string `json:"description"`
}

// edit is the outcome of a transform: the replacement lines for the target
// line, or a reason the transform does not apply.
type edit struct {
	replacement []string
	description string
	reason      string
}

func notApplicable(format string, args ...interface{}) edit {
	return edit{reason: fmt.Sprintf(format, args...)}
}

type transform func(line string, f types.Finding, lang syntax) edit

var transforms = map[Strategy]transform{
	StrategyDynamicEval:    replaceEval,
	StrategySQLWarning:     warnSQLConcat,
	StrategyMarkupSink:     replaceMarkupSink,
	StrategyLoopComment:    commentLoop,
	StrategySafeNavigation: insertSafeNavigation,
	StrategyInsertAwait:    insertAwait,
	StrategyTryCatch:       wrapTryCatch,
	StrategyCommentUnused:  commentOutUnused,
	StrategyGenericComment: insertSuggestion,
}

// syntax is what a transform needs to know about the file's language.
type syntax struct {
	comment string
	braces  bool
}

var hashCommentExtensions = map[string]bool{
	".py": true, ".rb": true, ".sh": true, ".bash": true, ".zsh": true, ".pl": true,
	".r": true, ".yaml": true, ".yml": true, ".toml": true, ".ex": true, ".exs": true,
}

var dashCommentExtensions = map[string]bool{
	".sql": true, ".lua": true, ".hs": true,
}

var jsFamily = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

func syntaxFor(path string) syntax {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case hashCommentExtensions[ext]:
		return syntax{comment: "#"}
	case dashCommentExtensions[ext]:
		return syntax{comment: "--"}
	}
	return syntax{comment: "//", braces: jsFamily[ext]}
}

func languageOf(ext string) string {
	switch strings.ToLower(ext) {
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".py":
		return "python"
	case ".rb":
		return "ruby"
	case ".sh", ".bash", ".zsh":
		return "shell"
	}
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

func isComment(trimmed string, lang syntax) bool {
	return strings.HasPrefix(trimmed, lang.comment) || strings.HasPrefix(trimmed, "/*") ||
		strings.HasPrefix(trimmed, "*")
}

// commentAbove inserts a comment line with the target line's indentation.
func commentAbove(line string, lang syntax, text, description string) edit {
	comment := indentOf(line) + lang.comment + " " + text
	return edit{replacement: []string{comment, line}, description: description}
}

var evalRegex = regexp.MustCompile(`\beval\s*\(\s*([^)]+?)\s*\)`)

func replaceEval(line string, _ types.Finding, _ syntax) edit {
	if !evalRegex.MatchString(line) {
		return notApplicable("no eval() call found on the line")
	}
	return edit{
		replacement: []string{evalRegex.ReplaceAllString(line, "JSON.parse($1)")},
		description: "Replaced eval() with JSON.parse()",
	}
}

var sqlConcatRegex = regexp.MustCompile("(?i)\\b(SELECT|INSERT|UPDATE|DELETE)\\b.*['\"`]\\s*\\+|\\+\\s*['\"`][^'\"`]*\\b(WHERE|AND|OR|VALUES|SET)\\b")

func warnSQLConcat(line string, _ types.Finding, lang syntax) edit {
	if !sqlConcatRegex.MatchString(line) {
		return notApplicable("no concatenated SQL string found on the line")
	}
	return commentAbove(line, lang,
		"SECURITY: use parameterized queries instead of string concatenation",
		"Added warning comment for SQL built by string concatenation")
}

var markupSinkRegex = regexp.MustCompile(`\.innerHTML\b`)

func replaceMarkupSink(line string, _ types.Finding, _ syntax) edit {
	if !markupSinkRegex.MatchString(line) {
		return notApplicable("no innerHTML usage found on the line")
	}
	return edit{
		replacement: []string{markupSinkRegex.ReplaceAllString(line, ".textContent")},
		description: "Replaced innerHTML with textContent",
	}
}

var loopRegex = regexp.MustCompile(`^\s*for\b|\b(for|while)\s*\(|^\s*while\b|\.(forEach|map|filter|reduce|find|some|every)\s*\(`)

func commentLoop(line string, _ types.Finding, lang syntax) edit {
	if !loopRegex.MatchString(line) {
		return notApplicable("no loop found on the line")
	}
	return commentAbove(line, lang,
		"PERFORMANCE: consider a Map/Set lookup instead of a nested loop",
		"Added nested loop optimization note")
}

var (
	chainRegex  = regexp.MustCompile(`\b[A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)+`)
	safeGlobals = map[string]bool{
		"console": true, "Math": true, "JSON": true, "Object": true, "Array": true, "Promise": true,
		"Number": true, "String": true, "Date": true, "process": true, "module": true, "this": true,
		"window": true, "document": true, "exports": true, "require": true,
	}
)

// insertSafeNavigation rewrites the deepest unguarded property chain on the
// line to optional chaining. Every read of that chain is rewritten; a chain
// written to is left alone since `a?.b = x` is a syntax error.
func insertSafeNavigation(line string, _ types.Finding, _ syntax) edit {
	if strings.Contains(line, "?.") {
		return notApplicable("line already uses optional chaining")
	}
	var reads [][]int
	best, targets := "", 0
	for _, loc := range chainRegex.FindAllStringIndex(line, -1) {
		chain := line[loc[0]:loc[1]]
		if loc[0] > 0 && line[loc[0]-1] == '.' {
			continue
		}
		head := chain[:strings.Index(chain, ".")]
		if safeGlobals[head] || inString(line, loc[0]) {
			continue
		}
		if assignmentTarget(line[loc[1]:]) {
			targets++
			continue
		}
		reads = append(reads, loc)
		if strings.Count(chain, ".") > strings.Count(best, ".") {
			best = chain
		}
	}
	if best == "" {
		if targets > 0 {
			return notApplicable("property chain is an assignment target")
		}
		return notApplicable("no unguarded property access found on the line")
	}

	guarded := strings.ReplaceAll(best, ".", "?.")
	var b strings.Builder
	last := 0
	for _, loc := range reads {
		if line[loc[0]:loc[1]] != best {
			continue
		}
		b.WriteString(line[last:loc[0]])
		b.WriteString(guarded)
		last = loc[1]
	}
	b.WriteString(line[last:])
	return edit{
		replacement: []string{b.String()},
		description: fmt.Sprintf("Added optional chaining: %s -> %s", best, guarded),
	}
}

var compoundAssignOps = []string{
	"+=", "-=", "*=", "/=", "%=", "**=", "<<=", ">>=", ">>>=", "&=", "|=", "^=", "&&=", "||=", "??=",
}

// assignmentTarget reports whether rest, the text after a chain, starts with
// an assignment or update operator.
func assignmentTarget(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	if strings.HasPrefix(rest, "++") || strings.HasPrefix(rest, "--") {
		return true
	}
	if strings.HasPrefix(rest, "=") {
		return !strings.HasPrefix(rest, "==") && !strings.HasPrefix(rest, "=>")
	}
	for _, op := range compoundAssignOps {
		if strings.HasPrefix(rest, op) {
			return true
		}
	}
	return false
}

var (
	callRegex    = regexp.MustCompile(`[A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*\(`)
	callKeywords = map[string]bool{
		"if": true, "for": true, "while": true, "switch": true, "catch": true, "function": true,
		"return": true, "typeof": true, "new": true, "super": true, "require": true,
	}
)

func insertAwait(line string, _ types.Finding, _ syntax) edit {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "await ") || strings.Contains(line, " await ") {
		return notApplicable("call is already awaited")
	}
	for _, loc := range callRegex.FindAllStringIndex(line, -1) {
		name := strings.TrimSuffix(line[loc[0]:loc[1]], "(")
		if callKeywords[name] || inString(line, loc[0]) {
			continue
		}
		if loc[0] > 0 && (line[loc[0]-1] == '.' || line[loc[0]-1] == '$') {
			continue
		}
		if prefix := strings.TrimSpace(line[:loc[0]]); strings.HasSuffix(prefix, "new") {
			continue
		}
		return edit{
			replacement: []string{line[:loc[0]] + "await " + line[loc[0]:]},
			description: fmt.Sprintf("Added missing await before %s()", name),
		}
	}
	return notApplicable("no async call found on the line")
}

// wrapTryCatch wraps a single complete statement in try/catch.
func wrapTryCatch(line string, _ types.Finding, lang syntax) edit {
	if !lang.braces {
		return notApplicable("try/catch wrapping is only supported for JavaScript and TypeScript")
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isComment(trimmed, lang) {
		return notApplicable("line has no statement to wrap")
	}
	if !strings.HasSuffix(trimmed, ";") && !strings.HasSuffix(trimmed, ")") {
		return notApplicable("line is not a complete statement")
	}
	if strings.HasPrefix(trimmed, "const ") || strings.HasPrefix(trimmed, "let ") {
		return notApplicable("wrapping a block-scoped declaration would hide the binding")
	}
	indent := indentOf(line)
	return edit{
		replacement: []string{
			indent + "try {",
			indent + "  " + trimmed,
			indent + "} catch (error) {",
			indent + "  console.error(error);",
			indent + "}",
		},
		description: "Wrapped statement in try/catch",
	}
}

var declarationRegex = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var|import)\b|^\s*[A-Za-z_][\w]*\s*(?::[^=]+)?=[^=]`)

func commentOutUnused(line string, _ types.Finding, lang syntax) edit {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isComment(trimmed, lang) {
		return notApplicable("line has no declaration")
	}
	if !declarationRegex.MatchString(line) {
		return notApplicable("no binding declaration found on the line")
	}
	return edit{
		replacement: []string{indentOf(line) + lang.comment + " " + trimmed},
		description: "Commented out unused binding",
	}
}

var whitespace = regexp.MustCompile(`\s+`)

func insertSuggestion(line string, f types.Finding, lang syntax) edit {
	suggestion := strings.TrimSpace(whitespace.ReplaceAllString(f.Suggestion, " "))
	if len(suggestion) <= minSuggestionLength {
		return notApplicable("suggestion is too short to be useful")
	}
	return commentAbove(line, lang, "FIX: "+suggestion, "Added fix suggestion: "+suggestion)
}

// inString reports whether pos falls inside a quoted string on the line.
func inString(line string, pos int) bool {
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
