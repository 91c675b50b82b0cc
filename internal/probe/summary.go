package probe

import (
	"fmt"
	"strings"
)

var serverPurposes = map[string]string{
	"fetch":               "Web requests and HTTP calls",
	"filesystem":          "Local file operations",
	"playwright":          "Browser automation",
	"sequential-thinking": "Structured reasoning",
	"airweave-search":     "Airweave knowledge base search",
	"circleci":            "CI/CD pipeline information",
	"perplexity":          "Web search and reasoning",
	"maps-grounding-lite": "Google Maps tools",
	"hubspot":             "CRM data access",
	"supabase":            "Database operations",
	"atlassian":           "Jira and Confluence",
	"figma":               "Design file access",
	"github":              "GitHub repositories and actions",
	"linear":              "Issue tracking",
	"notion":              "Workspace content",
}

var classTitles = map[ExecutionClass]string{
	ClassIndependent: "No Authentication Required",
	ClassAPIKey:      "API Key Authentication",
	ClassOAuth:       "OAuth/Remote Authentication",
}

// CatalogSummary renders a grouped overview of the probe set, one section per
// execution class in run order.
func CatalogSummary(specs []ProbeSpec) string {
	rule := strings.Repeat("=", 50)
	lines := []string{"MCP Server Configuration Summary", rule, ""}

	for _, class := range []ExecutionClass{ClassIndependent, ClassAPIKey, ClassOAuth} {
		group := FilterClasses(specs, class)
		if len(group) == 0 {
			continue
		}
		lines = append(lines, "", classTitles[class]+":", strings.Repeat("-", 50))
		for _, spec := range group {
			lines = append(lines, "  • "+spec.Name+" - "+purposeFor(spec))
		}
	}

	lines = append(lines, "", rule)
	lines = append(lines, fmt.Sprintf("Total: %d servers configured", len(specs)))
	return strings.Join(lines, "\n")
}

func purposeFor(spec ProbeSpec) string {
	if purpose, ok := serverPurposes[spec.Name]; ok {
		return purpose
	}
	if spec.Description != "" {
		return spec.Description
	}
	return spec.Tool
}
