package probe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// DefaultCatalog returns the built-in probe set. Within each execution class
// the order here is the order results are reported in.
func DefaultCatalog() []ProbeSpec {
	return []ProbeSpec{
		{
			Name:        "fetch",
			Class:       ClassIndependent,
			Transport:   TransportStdio,
			Tool:        "fetch",
			Arguments:   map[string]any{"url": "https://www.apple.com"},
			Description: "Fetch apple.com and extract content",
			ArgsSchema:  singleStringSchema("url"),
		},
		{
			Name:        "filesystem",
			Class:       ClassIndependent,
			Transport:   TransportStdio,
			Tool:        "read_file",
			Arguments:   map[string]any{"path": "README.md"},
			Description: "Read README.md and get first 3 lines",
			ArgsSchema:  singleStringSchema("path"),
		},
		{
			Name:      "playwright",
			Class:     ClassIndependent,
			Transport: TransportStdio,
			Tool:      "playwright_navigate",
			Arguments: map[string]any{"url": "https://example.com"},
			FollowUp: &ProbeStep{
				Tool:      "playwright_snapshot",
				Arguments: map[string]any{},
			},
			Description: "Go to example.com and get page title",
			ArgsSchema:  singleStringSchema("url"),
		},
		{
			Name:      "sequential-thinking",
			Class:     ClassIndependent,
			Transport: TransportStdio,
			Tool:      "create_thought",
			Arguments: map[string]any{
				"thought":     "What is 15% of 200?",
				"thoughtType": "observation",
			},
			FollowUp: &ProbeStep{
				Tool: "create_thought",
				Arguments: map[string]any{
					"thought":     "15% of 200 = 0.15 × 200 = 30",
					"thoughtType": "conclusion",
				},
			},
			Description: "Create problem and solution thoughts",
			ArgsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"thought":     map[string]any{"type": "string"},
					"thoughtType": map[string]any{"type": "string"},
				},
				"required":             []string{"thought", "thoughtType"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "airweave-search",
			Class:       ClassAPIKey,
			Transport:   TransportStdio,
			Tool:        "search",
			Arguments:   map[string]any{"query": "AI and machine learning trends"},
			Description: "Search knowledge base for AI trends",
			ArgsSchema:  singleStringSchema("query"),
		},
		{
			Name:      "circleci",
			Class:     ClassAPIKey,
			Transport: TransportStdio,
			Tool:      "get_pipelines",
			Arguments: map[string]any{
				"org_slug":     "gh/facebook",
				"project_slug": "react",
			},
			Description: "Get pipelines for React repo",
			ArgsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"org_slug":     map[string]any{"type": "string"},
					"project_slug": map[string]any{"type": "string"},
				},
				"required":             []string{"org_slug", "project_slug"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "perplexity",
			Class:       ClassAPIKey,
			Transport:   TransportStdio,
			Tool:        "search",
			Arguments:   map[string]any{"query": "What are the latest developments in LLM technology?"},
			Description: "Ask about latest LLM developments",
			ArgsSchema:  singleStringSchema("query"),
		},
		{
			Name:        "maps-grounding-lite",
			Class:       ClassAPIKey,
			Transport:   TransportStreamableHTTP,
			Tool:        "search_places",
			Arguments:   map[string]any{"query": "best coffee shops in San Francisco"},
			Description: "Find coffee shops in San Francisco",
			ArgsSchema:  singleStringSchema("query"),
		},
		{
			Name:        "hubspot",
			Class:       ClassAPIKey,
			Transport:   TransportStreamableHTTP,
			Tool:        "search_contacts",
			Arguments:   map[string]any{"query": "email:@example.com"},
			Description: "Search contacts in CRM",
			ArgsSchema:  singleStringSchema("query"),
		},
		{
			Name:        "supabase",
			Class:       ClassAPIKey,
			Transport:   TransportStreamableHTTP,
			Tool:        "list_projects",
			Arguments:   map[string]any{},
			Description: "List your Supabase projects",
			ArgsSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		{
			Name:        "atlassian",
			Class:       ClassOAuth,
			Transport:   TransportSSE,
			Tool:        "search_issues",
			Arguments:   map[string]any{"jql": "project = DEMO AND status = 'In Progress'"},
			Description: "Search JIRA for in-progress issues",
			ArgsSchema:  singleStringSchema("jql"),
		},
		{
			Name:        "figma",
			Class:       ClassOAuth,
			Transport:   TransportStreamableHTTP,
			Tool:        "get_file",
			Arguments:   map[string]any{"file_key": "sample-design-file"},
			Description: "Get design file data",
			ArgsSchema:  singleStringSchema("file_key"),
		},
		{
			Name:      "github",
			Class:     ClassOAuth,
			Transport: TransportStreamableHTTP,
			Tool:      "search_repositories",
			Arguments: map[string]any{
				"query":    "language:python stars:>1000 topic:ai",
				"sort":     "stars",
				"per_page": 5,
			},
			Description: "Search Python AI repos with 1000+ stars",
			ArgsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":    map[string]any{"type": "string"},
					"sort":     map[string]any{"type": "string"},
					"per_page": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
				},
				"required":             []string{"query"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "linear",
			Class:       ClassOAuth,
			Transport:   TransportStreamableHTTP,
			Tool:        "search_issues",
			Arguments:   map[string]any{"query": "status:in_progress label:bug"},
			Description: "Search for bug issues",
			ArgsSchema:  singleStringSchema("query"),
		},
		{
			Name:        "notion",
			Class:       ClassOAuth,
			Transport:   TransportStreamableHTTP,
			Tool:        "search",
			Arguments:   map[string]any{"query": "meeting notes"},
			Description: "Search workspace for 'meeting notes'",
			ArgsSchema:  singleStringSchema("query"),
		},
	}
}

func singleStringSchema(field string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{"type": "string"},
		},
		"required":             []string{field},
		"additionalProperties": false,
	}
}

// FilterClasses keeps probes whose class is in the given set. An empty set
// keeps everything.
func FilterClasses(specs []ProbeSpec, classes ...ExecutionClass) []ProbeSpec {
	if len(classes) == 0 {
		return specs
	}
	keep := make(map[ExecutionClass]bool, len(classes))
	for _, class := range classes {
		keep[class] = true
	}
	out := make([]ProbeSpec, 0, len(specs))
	for _, spec := range specs {
		if keep[spec.Class] {
			out = append(out, spec)
		}
	}
	return out
}

// FilterServers keeps probes whose name is in the given set, preserving
// catalog order. An empty set keeps everything.
func FilterServers(specs []ProbeSpec, names ...string) []ProbeSpec {
	if len(names) == 0 {
		return specs
	}
	keep := make(map[string]bool, len(names))
	for _, name := range names {
		keep[strings.TrimSpace(name)] = true
	}
	out := make([]ProbeSpec, 0, len(specs))
	for _, spec := range specs {
		if keep[spec.Name] {
			out = append(out, spec)
		}
	}
	return out
}

type catalogFile struct {
	Probes []catalogEntry `yaml:"probes"`
}

type catalogEntry struct {
	Name        string         `yaml:"name"`
	Class       string         `yaml:"class"`
	Transport   string         `yaml:"transport"`
	Tool        string         `yaml:"tool"`
	Arguments   map[string]any `yaml:"arguments"`
	FollowUp    *ProbeStep     `yaml:"follow_up"`
	Description string         `yaml:"description"`
	ArgsSchema  map[string]any `yaml:"args_schema"`
}

// LoadCatalogFile reads a YAML probe catalog. The file replaces the built-in
// catalog entirely, it is not merged with it.
func LoadCatalogFile(path string) ([]ProbeSpec, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Probes) == 0 {
		return nil, errors.New("catalog has no probes")
	}
	specs := make([]ProbeSpec, 0, len(file.Probes))
	for _, entry := range file.Probes {
		class, err := ParseClass(entry.Class)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", entry.Name, err)
		}
		transport, err := ParseTransport(entry.Transport)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", entry.Name, err)
		}
		args := entry.Arguments
		if args == nil {
			args = map[string]any{}
		}
		specs = append(specs, ProbeSpec{
			Name:        entry.Name,
			Class:       class,
			Transport:   transport,
			Tool:        entry.Tool,
			Arguments:   args,
			FollowUp:    entry.FollowUp,
			Description: entry.Description,
			ArgsSchema:  entry.ArgsSchema,
		})
	}
	if err := ValidateCatalog(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// ValidateCatalog rejects malformed probe sets before anything is dialed:
// empty names or tools, duplicate servers, unknown classes or transports, and
// static arguments that do not satisfy the probe's own args schema.
func ValidateCatalog(specs []ProbeSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" {
			return errors.New("catalog entry with empty server name")
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate catalog entry %q", spec.Name)
		}
		seen[spec.Name] = true
		if strings.TrimSpace(spec.Tool) == "" {
			return fmt.Errorf("catalog entry %q: empty tool name", spec.Name)
		}
		switch spec.Class {
		case ClassIndependent, ClassAPIKey, ClassOAuth:
		default:
			return fmt.Errorf("catalog entry %q: unknown execution class %q", spec.Name, spec.Class)
		}
		switch spec.Transport {
		case TransportStdio, TransportSSE, TransportStreamableHTTP:
		default:
			return fmt.Errorf("catalog entry %q: unknown transport %q", spec.Name, spec.Transport)
		}
		if spec.FollowUp != nil && strings.TrimSpace(spec.FollowUp.Tool) == "" {
			return fmt.Errorf("catalog entry %q: follow-up step with empty tool name", spec.Name)
		}
		if spec.ArgsSchema == nil {
			continue
		}
		schema, err := compileArgsSchema(spec.Name, spec.ArgsSchema)
		if err != nil {
			return err
		}
		args, err := normalizeJSON(spec.Arguments)
		if err != nil {
			return fmt.Errorf("catalog entry %q: encode arguments: %w", spec.Name, err)
		}
		if err := schema.Validate(args); err != nil {
			return fmt.Errorf("catalog entry %q: arguments do not match schema: %w", spec.Name, err)
		}
	}
	return nil
}

func compileArgsSchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog entry %q: encode args schema: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("catalog entry %q: load args schema: %w", name, err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("catalog entry %q: compile args schema: %w", name, err)
	}
	return schema, nil
}
