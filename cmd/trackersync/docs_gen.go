package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/dotsetgreg/trackersync/pkg/backend"
	"github.com/dotsetgreg/trackersync/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var (
		outputDir string
		checkOnly bool
	)

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate reference docs from command, config and store API source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir, checkOnly)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if generated docs are out of date")

	docsRoot.AddCommand(gen)
	return docsRoot
}

// generateDocumentation renders every reference page in memory, then either
// writes them under outputDir or, with checkOnly, fails on the first page
// that differs from what is on disk.
func generateDocumentation(rootFactory func() *cobra.Command, outputDir string, checkOnly bool) error {
	pages, err := renderReferences(rootFactory)
	if err != nil {
		return err
	}
	if checkOnly {
		return checkPages(outputDir, pages)
	}
	return writePages(outputDir, pages)
}

// generatedDirs are owned entirely by the generator.
var generatedDirs = []string{
	filepath.Join("reference", "cli"),
	filepath.Join("reference", "man"),
}

func renderReferences(rootFactory func() *cobra.Command) (map[string][]byte, error) {
	cliRoot := rootFactory()
	markCommandsForDocgen(cliRoot)

	pages := map[string][]byte{}
	err := walkDocCommands(cliRoot, func(cmd *cobra.Command) error {
		base := strings.ReplaceAll(cmd.CommandPath(), " ", "_")

		var md bytes.Buffer
		md.WriteString("# " + strings.ReplaceAll(base, "_", " ") + "\n\n")
		if err := cobraDoc.GenMarkdownCustom(cmd, &md, func(name string) string { return name }); err != nil {
			return fmt.Errorf("generate markdown for %s: %w", cmd.CommandPath(), err)
		}
		pages[filepath.Join(generatedDirs[0], base+".md")] = md.Bytes()

		var man bytes.Buffer
		header := &cobraDoc.GenManHeader{Title: "TRACKERSYNC", Section: "1", Source: "trackersync"}
		if err := cobraDoc.GenMan(cmd, header, &man); err != nil {
			return fmt.Errorf("generate man page for %s: %w", cmd.CommandPath(), err)
		}
		pages[filepath.Join(generatedDirs[1], strings.ReplaceAll(cmd.CommandPath(), " ", "-")+".1")] = man.Bytes()
		return nil
	})
	if err != nil {
		return nil, err
	}

	configRef, err := buildConfigReferenceMarkdown()
	if err != nil {
		return nil, err
	}
	pages[filepath.Join("reference", "config.md")] = []byte(configRef)
	pages[filepath.Join("reference", "store-api.md")] = []byte(buildStoreAPIReferenceMarkdown())
	return pages, nil
}

// walkDocCommands visits cmd and every documented subcommand, the same set
// cobra's tree generators cover.
func walkDocCommands(cmd *cobra.Command, fn func(*cobra.Command) error) error {
	for _, child := range cmd.Commands() {
		if !child.IsAvailableCommand() || child.IsAdditionalHelpTopicCommand() {
			continue
		}
		if err := walkDocCommands(child, fn); err != nil {
			return err
		}
	}
	return fn(cmd)
}

func markCommandsForDocgen(cmd *cobra.Command) {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		if child.Name() == "docs" {
			continue
		}
		markCommandsForDocgen(child)
	}
}

func writePages(outputDir string, pages map[string][]byte) error {
	for _, dir := range generatedDirs {
		if err := os.RemoveAll(filepath.Join(outputDir, dir)); err != nil {
			return err
		}
	}
	for rel, content := range pages {
		path := filepath.Join(outputDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", path, err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

func checkPages(outputDir string, pages map[string][]byte) error {
	rels := make([]string, 0, len(pages))
	for rel := range pages {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		onDisk, err := os.ReadFile(filepath.Join(outputDir, rel))
		if err != nil {
			return fmt.Errorf("docs out of date: missing %s", rel)
		}
		if !bytes.Equal(onDisk, pages[rel]) {
			return fmt.Errorf("docs out of date: %s differs; run `trackersync docs generate`", rel)
		}
	}

	for _, dir := range generatedDirs {
		entries, err := os.ReadDir(filepath.Join(outputDir, dir))
		if err != nil {
			return fmt.Errorf("docs out of date: missing %s", dir)
		}
		for _, e := range entries {
			if _, ok := pages[filepath.Join(dir, e.Name())]; !ok {
				return fmt.Errorf("docs out of date: unexpected file %s", filepath.Join(dir, e.Name()))
			}
		}
	}
	return nil
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

// buildConfigReferenceMarkdown walks config.DefaultConfig() so each row's
// default is the value the loader starts from.
func buildConfigReferenceMarkdown() (string, error) {
	rows := []configFieldRow{}
	if err := collectConfigRows(reflect.ValueOf(config.DefaultConfig()).Elem(), "", &rows); err != nil {
		return "", err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n")
	b.WriteString("Files ending in `.yaml`/`.yml` use the same keys as YAML.\n\n")
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		b.WriteString("| `" + escapePipes(row.Path) + "` | `" + escapePipes(row.Type) + "` | `" + escapePipes(valueOr(row.Env, "-")) + "` | `" + escapePipes(valueOr(row.Default, "-")) + "` |\n")
	}
	return b.String(), nil
}

func collectConfigRows(v reflect.Value, prefix string, rows *[]configFieldRow) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if !f.IsExported() || key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		if f.Type.Kind() == reflect.Struct {
			if err := collectConfigRows(v.Field(i), key, rows); err != nil {
				return err
			}
			continue
		}

		def, err := json.Marshal(v.Field(i).Interface())
		if err != nil {
			return fmt.Errorf("encode default for %s: %w", key, err)
		}
		*rows = append(*rows, configFieldRow{
			Path:    key,
			Type:    friendlyType(f.Type),
			Env:     f.Tag.Get("env"),
			Default: string(def),
		})
	}
	return nil
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		return "array<" + friendlyType(t.Elem()) + ">"
	case reflect.Map:
		return "map<" + friendlyType(t.Key()) + "," + friendlyType(t.Elem()) + ">"
	case reflect.Struct:
		return "object"
	case reflect.Interface:
		return "any"
	case reflect.Pointer:
		return "*" + friendlyType(t.Elem())
	default:
		return t.String()
	}
}

func storeRouteNote(method, path string) string {
	switch {
	case path == "/health":
		return "Liveness probe."
	case path == "/stats":
		return "Conversation and event counts."
	case method == "GET":
		return "Events with index greater than `after` (`-1` for all), newest `maxEvents` kept. `tracker` is null when nothing is newer."
	case strings.HasSuffix(path, "/insert"):
		return "Full tracker of a session this client has not synced yet."
	case strings.HasSuffix(path, "/update"):
		return "Tracker holding only events newer than the last acknowledged timestamp."
	}
	return ""
}

// buildStoreAPIReferenceMarkdown lists the reference store's routes as
// registered on its router, so the document cannot drift from the code.
func buildStoreAPIReferenceMarkdown() string {
	var routes []gin.RouteInfo
	if engine, ok := backend.NewServer(nil).Routes().(*gin.Engine); ok {
		routes = engine.Routes()
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})

	var b strings.Builder
	b.WriteString("# Conversation Store API\n\n")
	b.WriteString("Every conversation route answers `{\"tracker\": ..., \"lastIndex\": n, \"lastTimestamp\": t}`.\n")
	b.WriteString("Malformed requests get 400 with `{\"message\": ...}`.\n\n")
	b.WriteString("| Method | Path | Notes |\n")
	b.WriteString("| --- | --- | --- |\n")
	for _, r := range routes {
		note := storeRouteNote(r.Method, r.Path)
		b.WriteString("| `" + r.Method + "` | `" + escapePipes(r.Path) + "` | " + escapePipes(valueOr(note, "-")) + " |\n")
	}
	return b.String()
}

func escapePipes(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
