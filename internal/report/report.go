// Package report renders command results as text, JSON, YAML, TOML or
// through a user-supplied text/template.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/stackvity/filekit/internal/bench"
	"github.com/stackvity/filekit/internal/config"
	"github.com/stackvity/filekit/internal/engine"
	"github.com/stackvity/filekit/internal/filesystem"
	"github.com/stackvity/filekit/internal/worker"
)

// PathTimes is the timestamp listing of one path.
type PathTimes struct {
	Path       string    `json:"path" yaml:"path" toml:"path"`
	Creation   time.Time `json:"creation" yaml:"creation" toml:"creation"`
	LastWrite  time.Time `json:"lastWrite" yaml:"lastWrite" toml:"lastWrite"`
	LastAccess time.Time `json:"lastAccess" yaml:"lastAccess" toml:"lastAccess"`
}

// NewPathTimes pairs a path with its timestamps.
func NewPathTimes(path string, t filesystem.Times) PathTimes {
	return PathTimes{Path: path, Creation: t.Creation, LastWrite: t.LastWrite, LastAccess: t.LastAccess}
}

// Tree is the enumeration of a directory tree.
type Tree struct {
	Root  string   `json:"root" yaml:"root" toml:"root"`
	Paths []string `json:"paths" yaml:"paths" toml:"paths"`
}

// Renderer writes values in one output format.
type Renderer struct {
	format   string
	executor *Executor
}

// NewRenderer selects the output format. A template file, when given, takes
// precedence over format and is read through fs.
func NewRenderer(format, templateFile string, fs filesystem.FileSystem) (*Renderer, error) {
	switch format {
	case "":
		format = config.FormatText
	case config.FormatText, config.FormatJSON, config.FormatYAML, config.FormatTOML:
	default:
		return nil, fmt.Errorf("unsupported output format '%s'", format)
	}

	executor, err := NewExecutor(templateFile, fs)
	if err != nil {
		return nil, err
	}
	return &Renderer{format: format, executor: executor}, nil
}

// Format returns the selected format name, or "template" when a template is used.
func (r *Renderer) Format() string {
	if r.executor != nil {
		return "template"
	}
	return r.format
}

// Render writes v to w.
func (r *Renderer) Render(w io.Writer, v any) error {
	if r.executor != nil {
		out, err := r.executor.Execute(v)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	}

	switch r.format {
	case config.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case config.FormatTOML:
		if err := toml.NewEncoder(w).Encode(tomlDocument(v)); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	default:
		return writeText(w, v)
	}
}

// tomlDocument wraps values that cannot be a TOML document on their own.
func tomlDocument(v any) any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Struct, reflect.Map:
		return v
	case reflect.Slice, reflect.Array:
		return map[string]any{"results": v}
	default:
		return map[string]any{"value": v}
	}
}

func writeText(w io.Writer, v any) error {
	switch v := v.(type) {
	case engine.Report:
		return writeReport(w, v)
	case *engine.Report:
		return writeReport(w, *v)
	case []bench.Result:
		return writeBench(w, v)
	case PathTimes:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "path\t%s\n", v.Path)
		fmt.Fprintf(tw, "creation\t%s\n", formatTime(v.Creation))
		fmt.Fprintf(tw, "lastWrite\t%s\n", formatTime(v.LastWrite))
		fmt.Fprintf(tw, "lastAccess\t%s\n", formatTime(v.LastAccess))
		return tw.Flush()
	case Tree:
		for _, p := range v.Paths {
			if _, err := fmt.Fprintln(w, p); err != nil {
				return err
			}
		}
		return nil
	case fmt.Stringer:
		_, err := fmt.Fprintln(w, v.String())
		return err
	default:
		_, err := fmt.Fprintf(w, "%+v\n", v)
		return err
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339Nano)
}

func writeReport(w io.Writer, r engine.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, res := range r.Results {
		switch res.Status {
		case worker.StatusDiffered:
			detail := fmt.Sprintf("offset %d", res.Offset)
			if res.Reason != "" {
				detail += " (" + res.Reason + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", strings.ToUpper(res.Status), res.Path, detail)
		case worker.StatusMissing:
			fmt.Fprintf(tw, "%s\t%s\t\n", strings.ToUpper(res.Status), res.Path)
		case worker.StatusError:
			fmt.Fprintf(tw, "%s\t%s\t%s\n", strings.ToUpper(res.Status), res.Path, r.Errors[res.Path])
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "matched %d, differed %d, missing %d, cached %d, skipped %d, errors %d in %s\n",
		r.Matched, r.Differed, r.Missing, r.Cached, r.Skipped, r.Errored, r.Duration.Round(time.Millisecond))
	return err
}

func writeBench(w io.Writer, results []bench.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STRATEGY\tOP\tBYTES\tDURATION\tMB/s\t")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.1f\t\n", r.Name, r.Op, r.Bytes, r.Duration.Round(time.Microsecond), r.MBPerSec)
	}
	return tw.Flush()
}
