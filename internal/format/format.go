// Package format renders a selected variation as the text returned to the caller.
package format

import (
	"fmt"
	"strings"

	"github.com/manash/uigen/pkg/models"
)

// Result renders a summary of sel followed by its code in a fenced block. req may be nil.
func Result(sel *models.SelectionResult, req *models.GenerationRequest) string {
	if sel == nil {
		return ""
	}

	framework, styling := models.DefaultFramework, models.DefaultStyling
	if req != nil {
		if req.Framework != "" {
			framework = req.Framework
		}
		if req.Styling != "" {
			styling = req.Styling
		}
	}

	var b strings.Builder

	title := fmt.Sprintf("Selected variation %d of %d", sel.VariationIndex+1, models.VariationCount)
	if sel.Name != "" {
		title += fmt.Sprintf(": %s", sel.Name)
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	if req != nil && strings.TrimSpace(req.Description) != "" {
		fmt.Fprintf(&b, "Request: %s\n", strings.TrimSpace(req.Description))
	}
	fmt.Fprintf(&b, "Framework: %s\n", framework.DisplayName())
	fmt.Fprintf(&b, "Styling: %s\n", styling.DisplayName())
	if sel.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", sel.SessionID)
	}
	if sel.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", sel.Description)
	}
	if len(sel.Dependencies) > 0 {
		fmt.Fprintf(&b, "\nDependencies: %s\n", strings.Join(sel.Dependencies, ", "))
		fmt.Fprintf(&b, "Install: npm install %s\n", strings.Join(sel.Dependencies, " "))
	}

	b.WriteString("\n")
	b.WriteString(CodeBlock(sel.Code, framework))

	return b.String()
}

// CodeBlock fences code with the info string for f.
func CodeBlock(code string, f models.Framework) string {
	fence := codeFence(code)
	block := fence + Language(f) + "\n" + code
	if !strings.HasSuffix(code, "\n") {
		block += "\n"
	}
	return block + fence
}

// Language is the code fence info string for a framework.
func Language(f models.Framework) string {
	switch f {
	case models.FrameworkVue:
		return "vue"
	case models.FrameworkSvelte:
		return "svelte"
	default:
		return "tsx"
	}
}

// codeFence is one backtick longer than the longest run inside code, minimum three.
func codeFence(code string) string {
	longest, run := 0, 0
	for _, r := range code {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}
