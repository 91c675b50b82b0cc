package probe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogShape(t *testing.T) {
	catalog := DefaultCatalog()
	if len(catalog) != 15 {
		t.Fatalf("expected 15 probes, got %d", len(catalog))
	}

	independent := FilterClasses(catalog, ClassIndependent)
	apiKey := FilterClasses(catalog, ClassAPIKey)
	oauth := FilterClasses(catalog, ClassOAuth)
	if len(independent) != 4 || len(apiKey) != 6 || len(oauth) != 5 {
		t.Fatalf("expected 4/6/5 split, got %d/%d/%d", len(independent), len(apiKey), len(oauth))
	}

	for i, want := range []string{"fetch", "filesystem", "playwright", "sequential-thinking"} {
		if independent[i].Name != want {
			t.Fatalf("independent[%d]: expected %s, got %s", i, want, independent[i].Name)
		}
	}
	for _, spec := range catalog {
		if spec.Description == "" {
			t.Fatalf("probe %s has no description", spec.Name)
		}
		if spec.ArgsSchema == nil {
			t.Fatalf("probe %s has no args schema", spec.Name)
		}
	}
}

func TestDefaultCatalogValidates(t *testing.T) {
	if err := ValidateCatalog(DefaultCatalog()); err != nil {
		t.Fatalf("default catalog should validate: %v", err)
	}
}

func TestValidateCatalogRejectsBadEntries(t *testing.T) {
	base := DefaultCatalog()

	duplicated := append([]ProbeSpec{base[0]}, base[0])
	if err := ValidateCatalog(duplicated); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	badClass := []ProbeSpec{{Name: "x", Class: "basic", Transport: TransportStdio, Tool: "t"}}
	if err := ValidateCatalog(badClass); err == nil || !strings.Contains(err.Error(), "execution class") {
		t.Fatalf("expected class error, got %v", err)
	}

	emptyTool := []ProbeSpec{{Name: "x", Class: ClassOAuth, Transport: TransportSSE}}
	if err := ValidateCatalog(emptyTool); err == nil || !strings.Contains(err.Error(), "tool") {
		t.Fatalf("expected tool error, got %v", err)
	}

	badArgs := base[0]
	badArgs.Arguments = map[string]any{"link": "https://www.apple.com"}
	if err := ValidateCatalog([]ProbeSpec{badArgs}); err == nil || !strings.Contains(err.Error(), "fetch") {
		t.Fatalf("expected schema violation for fetch, got %v", err)
	}
}

func TestFilterServersKeepsCatalogOrder(t *testing.T) {
	catalog := DefaultCatalog()
	subset := FilterServers(catalog, "notion", "fetch", "github")
	if len(subset) != 3 {
		t.Fatalf("expected 3 probes, got %d", len(subset))
	}
	for i, want := range []string{"fetch", "github", "notion"} {
		if subset[i].Name != want {
			t.Fatalf("subset[%d]: expected %s, got %s", i, want, subset[i].Name)
		}
	}
	if got := FilterServers(catalog); len(got) != len(catalog) {
		t.Fatalf("empty selection should keep everything, got %d", len(got))
	}
}

func TestLoadCatalogFile(t *testing.T) {
	content := `probes:
  - name: fetch
    class: independent
    transport: stdio
    tool: fetch
    arguments:
      url: https://www.apple.com
    description: Fetch apple.com
    args_schema:
      type: object
      properties:
        url:
          type: string
      required: [url]
  - name: github
    class: oauth
    transport: streamable_http
    tool: search_repositories
    follow_up:
      tool: get_repo
      arguments:
        owner: octocat
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	specs, err := LoadCatalogFile(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 probes, got %d", len(specs))
	}
	if specs[0].Class != ClassIndependent || specs[0].Transport != TransportStdio {
		t.Fatalf("unexpected first probe: %+v", specs[0])
	}
	if specs[1].Class != ClassOAuth || specs[1].Transport != TransportStreamableHTTP {
		t.Fatalf("unexpected second probe: %+v", specs[1])
	}
	if specs[1].Arguments == nil || len(specs[1].Arguments) != 0 {
		t.Fatalf("expected defaulted empty arguments, got %v", specs[1].Arguments)
	}
	if specs[1].FollowUp == nil || specs[1].FollowUp.Tool != "get_repo" {
		t.Fatalf("expected follow-up step, got %+v", specs[1].FollowUp)
	}
}

func TestLoadCatalogFileRejectsUnknownClass(t *testing.T) {
	content := `probes:
  - name: x
    class: basic
    transport: stdio
    tool: t
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadCatalogFile(path); err == nil || !strings.Contains(err.Error(), "execution class") {
		t.Fatalf("expected class error, got %v", err)
	}
}

func TestResolveClassSelection(t *testing.T) {
	classes, err := ResolveClassSelection("independent, oauth")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(classes) != 2 || classes[0] != ClassIndependent || classes[1] != ClassOAuth {
		t.Fatalf("unexpected classes: %v", classes)
	}

	classes, err = ResolveClassSelection("all")
	if err != nil || classes != nil {
		t.Fatalf("expected nil for all, got %v (%v)", classes, err)
	}

	if _, err := ResolveClassSelection("independent,nope"); err == nil {
		t.Fatal("expected error for unknown class")
	}
}

func TestResolveServerSelection(t *testing.T) {
	names := ResolveServerSelection(" fetch, github ,,notion")
	if len(names) != 3 || names[0] != "fetch" || names[1] != "github" || names[2] != "notion" {
		t.Fatalf("unexpected names: %v", names)
	}
}
