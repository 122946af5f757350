package batch

import (
	"fmt"
	"sort"
	"strings"
)

// Group buckets fixes in the commit message.
type Group string

const (
	GroupSecurity    Group = "security"
	GroupBugs        Group = "bugs"
	GroupPerformance Group = "performance"
	GroupQuality     Group = "quality"
)

// groupOrder is also the priority used for the title.
var groupOrder = []Group{GroupSecurity, GroupBugs, GroupPerformance, GroupQuality}

var groupKeywords = map[Group][]string{
	GroupSecurity:    {"security", "eval", "sql", "xss", "injection", "innerhtml"},
	GroupBugs:        {"bug", "null", "undefined", "await", "async"},
	GroupPerformance: {"performance", "loop", "o(n"},
}

var groupTitles = map[Group]string{
	GroupSecurity:    "Fix security vulnerabilities",
	GroupBugs:        "Fix bugs",
	GroupPerformance: "Optimize performance",
	GroupQuality:     "Auto-fix code issues",
}

var groupHeadings = map[Group]string{
	GroupSecurity:    "Security",
	GroupBugs:        "Bugs",
	GroupPerformance: "Performance",
	GroupQuality:     "Code Quality",
}

// GroupOf classifies a fix by keywords in its issue text and category.
func GroupOf(f Fix) Group {
	text := strings.ToLower(f.Description + " " + string(f.Category))
	for _, g := range groupOrder[:3] {
		for _, kw := range groupKeywords[g] {
			if strings.Contains(text, kw) {
				return g
			}
		}
	}
	return GroupQuality
}

// uniqueFiles returns the sorted set of touched paths.
func uniqueFiles(fixes []Fix) []string {
	seen := make(map[string]bool, len(fixes))
	var files []string
	for _, f := range fixes {
		if !seen[f.FilePath] {
			seen[f.FilePath] = true
			files = append(files, f.FilePath)
		}
	}
	sort.Strings(files)
	return files
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, pluralForm)
}

// BuildMessage synthesizes the commit message for a set of fixes.
func BuildMessage(fixes []Fix) string {
	groups := make(map[Group][]Fix)
	for _, f := range fixes {
		g := GroupOf(f)
		groups[g] = append(groups[g], f)
	}

	title := groupTitles[GroupQuality]
	for _, g := range groupOrder {
		if len(groups[g]) > 0 {
			title = groupTitles[g]
			break
		}
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Applied %s across %s:\n\n",
		plural(len(fixes), "automated fix", "automated fixes"),
		plural(len(uniqueFiles(fixes)), "file", "files"))

	for _, g := range groupOrder {
		list := groups[g]
		if len(list) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d):\n", groupHeadings[g], len(list))
		for _, f := range list {
			desc := f.Change
			if desc == "" {
				desc = f.Description
			}
			fmt.Fprintf(&b, "  - %s:%d - %s\n", f.FilePath, f.Line, desc)
		}
		b.WriteString("\n")
	}
	b.WriteString("Auto-fixed by vigil")
	return b.String()
}
