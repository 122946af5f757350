package batch

import (
	"testing"

	"github.com/steveyegge/vigil/internal/types"
)

func TestGroupOf(t *testing.T) {
	tests := []struct {
		fix  Fix
		want Group
	}{
		{Fix{Description: "Use of eval() is dangerous"}, GroupSecurity},
		{Fix{Category: types.CategoryInjectionRisk}, GroupSecurity},
		{Fix{Category: types.CategoryMarkupInjection}, GroupSecurity},
		{Fix{Description: "XSS via user input"}, GroupSecurity},
		{Fix{Description: "Possible null reference"}, GroupBugs},
		{Fix{Category: types.CategoryMissingAsyncWait}, GroupBugs},
		{Fix{Description: "value may be undefined"}, GroupBugs},
		{Fix{Category: types.CategoryQuadraticLoop}, GroupPerformance},
		{Fix{Description: "performance hotspot"}, GroupPerformance},
		{Fix{Description: "unused variable"}, GroupQuality},
		{Fix{}, GroupQuality},
	}
	for _, tt := range tests {
		if got := GroupOf(tt.fix); got != tt.want {
			t.Errorf("GroupOf(%+v) = %s, want %s", tt.fix, got, tt.want)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	fixes := []Fix{
		{FilePath: "src/db.js", Line: 12, Description: "SQL injection risk", Change: "Added parameterized query warning"},
		{FilePath: "src/db.js", Line: 30, Description: "nested loop", Change: "Added performance note"},
		{FilePath: "src/ui.js", Line: 4, Description: "user may be null", Change: "Added optional chaining"},
		{FilePath: "src/ui.js", Line: 8, Description: "unused variable"},
	}
	want := "Fix security vulnerabilities\n\n" +
		"Applied 4 automated fixes across 2 files:\n\n" +
		"Security (1):\n  - src/db.js:12 - Added parameterized query warning\n\n" +
		"Bugs (1):\n  - src/ui.js:4 - Added optional chaining\n\n" +
		"Performance (1):\n  - src/db.js:30 - Added performance note\n\n" +
		"Code Quality (1):\n  - src/ui.js:8 - unused variable\n\n" +
		"Auto-fixed by vigil"
	if got := BuildMessage(fixes); got != want {
		t.Errorf("BuildMessage mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestBuildMessageTitles(t *testing.T) {
	tests := []struct {
		desc  string
		title string
	}{
		{"possible null", "Fix bugs"},
		{"loop inside loop", "Optimize performance"},
		{"style", "Auto-fix code issues"},
	}
	for _, tt := range tests {
		msg := BuildMessage([]Fix{{FilePath: "a.js", Line: 1, Description: tt.desc}})
		want := tt.title + "\n\nApplied 1 automated fix across 1 file:\n\n"
		if len(msg) < len(want) || msg[:len(want)] != want {
			t.Errorf("%q: message starts %q, want %q", tt.desc, msg, want)
		}
	}
}
