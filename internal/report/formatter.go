package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// OutputMode defines the available report output modes
type OutputMode string

const (
	// TableMode renders the aligned three-column summary table
	TableMode OutputMode = "table"

	// YAMLMode emits the structured key-value document for machine consumption
	YAMLMode OutputMode = "yaml"

	// BothMode renders the table and then the structured document
	BothMode OutputMode = "both"
)

// Formatter defines the interface for rendering the final report
type Formatter interface {
	// Render writes the report for all accumulated records
	Render(agg *Aggregator) error

	// SetMode configures the output mode
	SetMode(mode OutputMode)
}

// DefaultFormatter implements the Formatter interface for all output modes
type DefaultFormatter struct {
	mode   OutputMode
	writer io.Writer
	runID  string
}

// NewFormatter creates a new formatter with the specified mode and writer
func NewFormatter(mode OutputMode, writer io.Writer, runID string) Formatter {
	if writer == nil {
		writer = os.Stdout
	}

	return &DefaultFormatter{
		mode:   mode,
		writer: writer,
		runID:  runID,
	}
}

// SetMode configures the output mode
func (f *DefaultFormatter) SetMode(mode OutputMode) {
	f.mode = mode
}

// Render writes the report. Rendering never fails on an empty record set: the
// table then consists of the two structural rows only.
func (f *DefaultFormatter) Render(agg *Aggregator) error {
	switch f.mode {
	case TableMode:
		return f.renderTable(agg)
	case YAMLMode:
		return f.renderYAML(agg)
	case BothMode:
		if err := f.renderTable(agg); err != nil {
			return err
		}
		fmt.Fprintln(f.writer)
		return f.renderYAML(agg)
	default:
		return fmt.Errorf("unknown output mode: %s", f.mode)
	}
}

// tableCaptions returns the header captions for the three columns. The two
// header rows (captions and separator) are synthesized at render time; they
// are presentation, not data, and never appear in the structured export.
func tableCaptions() [3]string {
	title := cases.Title(language.English)
	return [3]string{"vCenter", title.String("status"), title.String("message")}
}

// renderTable writes the aligned three-column summary table
func (f *DefaultFormatter) renderTable(agg *Aggregator) error {
	captions := tableCaptions()
	records := agg.Records()

	widths := [3]int{len(captions[0]), len(captions[1]), len(captions[2])}
	for _, rec := range records {
		if len(rec.Target) > widths[0] {
			widths[0] = len(rec.Target)
		}
		if len(rec.Status) > widths[1] {
			widths[1] = len(rec.Status)
		}
		if len(rec.Message) > widths[2] {
			widths[2] = len(rec.Message)
		}
	}

	row := func(a, b, c string) error {
		_, err := fmt.Fprintf(f.writer, "%-*s  %-*s  %-*s\n",
			widths[0], a, widths[1], b, widths[2], c)
		return err
	}

	if err := row(captions[0], captions[1], captions[2]); err != nil {
		return fmt.Errorf("failed to write table header: %w", err)
	}
	if err := row(strings.Repeat("-", widths[0]), strings.Repeat("-", widths[1]), strings.Repeat("-", widths[2])); err != nil {
		return fmt.Errorf("failed to write table separator: %w", err)
	}

	for _, rec := range records {
		if err := row(rec.Target, string(rec.Status), rec.Message); err != nil {
			return fmt.Errorf("failed to write table row: %w", err)
		}
	}

	return nil
}

// yamlDocument is the structured export: run metadata plus the data rows only
type yamlDocument struct {
	Run struct {
		ID      string `yaml:"id"`
		Targets int    `yaml:"targets"`
	} `yaml:"run"`
	Results []Record `yaml:"results"`
}

// renderYAML writes the structured key-value document
func (f *DefaultFormatter) renderYAML(agg *Aggregator) error {
	var doc yamlDocument
	doc.Run.ID = f.runID
	doc.Run.Targets = agg.Len()
	doc.Results = agg.Records()

	encoder := yaml.NewEncoder(f.writer)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	return nil
}
