package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are an expert code reviewer. You answer only with a single JSON object."

// PromptInput is what the prompt describes about the file.
type PromptInput struct {
	Path       string
	Extension  string
	FileType   string
	Complexity string
	Change     string
	Content    string
}

func buildAnalysisPrompt(in PromptInput) string {
	lang := strings.TrimPrefix(in.Extension, ".")
	fileType := in.FileType
	if fileType == "" {
		fileType = "unknown"
	}
	complexity := in.Complexity
	if complexity == "" {
		complexity = "unknown"
	}
	change := in.Change
	if change == "" {
		change = "manual"
	}

	var b strings.Builder
	b.WriteString(`Analyze the following file and detect:

1. **Potential bugs** (logic errors, typos, syntax problems)
2. **Security problems** (injection, XSS, exposed secrets)
3. **Performance issues** (inefficient loops, memory leaks)
4. **Code improvements** (refactoring, best practices)
5. **Missing tests** (functions without tests)

`)
	fmt.Fprintf(&b, "**File:** %s\n**Type:** %s\n**Complexity:** %s\n**Change:** %s\n\n", in.Path, fileType, complexity, change)
	fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, in.Content)
	b.WriteString(`Respond ONLY with JSON in this shape:

{
  "bugs": [{"severity": "high|medium|low", "line": number, "description": "...", "suggestion": "..."}],
  "security": [{"severity": "critical|high|medium|low", "line": number, "issue": "...", "fix": "..."}],
  "performance": [{"impact": "high|medium|low", "line": number, "problem": "...", "solution": "..."}],
  "improvements": [{"type": "refactor|style|naming", "line": number, "current": "...", "suggested": "..."}],
  "tests": [{"function": "...", "reason": "...", "testCase": "..."}],
  "summary": "A one or two line summary of the analysis"
}

Use an empty array [] for any category with no findings.`)
	return b.String()
}

// truncateContent keeps the first and last halves of a long file around an
// omission marker. It reports whether anything was cut.
func truncateContent(content string, maxLines int) (string, bool) {
	lines := strings.Split(content, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return content, false
	}
	half := maxLines / 2
	first := strings.Join(lines[:half], "\n")
	last := strings.Join(lines[len(lines)-half:], "\n")
	return fmt.Sprintf("%s\n\n// ... [%d lines omitted] ...\n\n%s", first, len(lines)-2*half, last), true
}
