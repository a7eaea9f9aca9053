// =============================================================================
// CLI OUTPUT FORMATTER - TABLE, JSON, YAML OUTPUT SUPPORT
// =============================================================================
//
//   $ batchrelay-cli stats
//   FIELD                VALUE
//   running              true
//   queue                12 / 10,000
//   records accepted     1,204,311
//   last delivery        3 seconds ago (delivered)
//
//   $ batchrelay-cli stats -o json | jq .pipeline.queue_length
//   12
//
// Table output is for people; json and yaml carry every field unchanged.
//
// =============================================================================

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// OUTPUT FORMAT
// =============================================================================

// OutputFormat represents the output format type.
type OutputFormat string

// Supported output formats
const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// ParseOutputFormat parses an output format string.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return OutputTable, nil
	case "json":
		return OutputJSON, nil
	case "yaml", "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: table, json, yaml)", s)
	}
}

// =============================================================================
// FORMATTER
// =============================================================================

// Formatter handles output formatting for CLI commands.
type Formatter struct {
	format OutputFormat
	writer io.Writer
	now    func() time.Time
}

// NewFormatter creates a new formatter with the specified format.
func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
		now:    time.Now,
	}
}

// SetWriter sets the output writer (for testing).
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Format outputs data in the configured format.
func (f *Formatter) Format(data interface{}) error {
	switch f.format {
	case OutputJSON:
		return f.formatJSON(data)
	case OutputYAML:
		return f.formatYAML(data)
	default:
		return fmt.Errorf("use specific table method for data type")
	}
}

func (f *Formatter) formatJSON(data interface{}) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *Formatter) formatYAML(data interface{}) error {
	encoder := yaml.NewEncoder(f.writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

// =============================================================================
// TABLE FORMATTING
// =============================================================================

// Table creates a new table writer.
func (f *Formatter) Table() *TableWriter {
	return &TableWriter{
		tw: tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0),
	}
}

// TableWriter wraps tabwriter for convenient table output.
type TableWriter struct {
	tw      *tabwriter.Writer
	headers []string
}

// SetHeaders sets the table headers.
func (t *TableWriter) SetHeaders(headers ...string) {
	t.headers = headers
}

// WriteHeaders writes the headers row in upper case.
func (t *TableWriter) WriteHeaders() {
	if len(t.headers) == 0 {
		return
	}
	upper := make([]string, len(t.headers))
	for i, h := range t.headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(t.tw, strings.Join(upper, "\t"))
}

// WriteRow writes a single row.
func (t *TableWriter) WriteRow(values ...interface{}) {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(t.tw, strings.Join(strs, "\t"))
}

// Flush flushes the table writer.
func (t *TableWriter) Flush() error {
	return t.tw.Flush()
}

// =============================================================================
// SPECIFIC DATA TYPE FORMATTERS
// =============================================================================

// FormatStats outputs pipeline counters.
func (f *Formatter) FormatStats(stats *StatsResponse) error {
	if f.format != OutputTable {
		return f.Format(stats)
	}

	p := stats.Pipeline
	table := f.Table()
	table.SetHeaders("field", "value")
	table.WriteHeaders()
	table.WriteRow("uptime", stats.Uptime)
	table.WriteRow("running", p.Running)
	table.WriteRow("degraded", p.Degraded)
	table.WriteRow("queue", fmt.Sprintf("%s / %s", humanize.Comma(int64(p.QueueLength)), humanize.Comma(int64(p.QueueCapacity))))
	table.WriteRow("records accepted", humanize.Comma(p.Accepted))
	table.WriteRow("rejected (queue full)", humanize.Comma(p.RejectedFull))
	table.WriteRow("rejected (closed)", humanize.Comma(p.RejectedClosed))
	table.WriteRow("batches delivered", humanize.Comma(p.BatchesDelivered))
	table.WriteRow("batches rejected", humanize.Comma(p.BatchesRejected))
	table.WriteRow("batches exhausted", humanize.Comma(p.BatchesExhausted))
	table.WriteRow("last delivery", f.lastDelivery(p))
	if p.LastBatchID != "" {
		table.WriteRow("last batch", p.LastBatchID)
	}
	return table.Flush()
}

func (f *Formatter) lastDelivery(p PipelineStats) string {
	if p.LastOutcome == "" || p.LastDelivery.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", humanize.RelTime(p.LastDelivery, f.now(), "ago", "from now"), p.LastOutcome)
}

// FormatSendResults outputs one row per submitted record.
func (f *Formatter) FormatSendResults(results []*SendResult) error {
	if f.format != OutputTable {
		return f.Format(results)
	}

	table := f.Table()
	table.SetHeaders("line", "status", "result", "request id")
	table.WriteHeaders()
	for _, r := range results {
		line := "-"
		if r.Line > 0 {
			line = fmt.Sprint(r.Line)
		}
		table.WriteRow(line, r.StatusCode, describeResult(r), r.RequestID)
	}
	return table.Flush()
}

func describeResult(r *SendResult) string {
	if len(r.Fields) == 0 {
		return r.Message
	}
	parts := make([]string, len(r.Fields))
	for i, fe := range r.Fields {
		parts[i] = fe.Field + " " + fe.Rule
	}
	return "invalid: " + strings.Join(parts, ", ")
}

// FormatHealth outputs liveness and readiness.
func (f *Formatter) FormatHealth(health *HealthResponse) error {
	if f.format != OutputTable {
		return f.Format(health)
	}

	table := f.Table()
	table.SetHeaders("live", "ready", "status", "uptime", "message")
	table.WriteHeaders()
	table.WriteRow(health.Live, health.Ready, health.Status, orDash(health.Uptime), orDash(health.Message))
	return table.Flush()
}

// FormatVersion outputs build information.
func (f *Formatter) FormatVersion(info *VersionInfo) error {
	if f.format != OutputTable {
		return f.Format(info)
	}
	fmt.Fprintf(f.writer, "Version:    %s\n", info.Version)
	fmt.Fprintf(f.writer, "Git Commit: %s\n", info.GitCommit)
	fmt.Fprintf(f.writer, "Build Time: %s\n", info.BuildTime)
	return nil
}

// FormatContexts lists configured contexts, marking the current one.
func (f *Formatter) FormatContexts(config *Config) error {
	if f.format != OutputTable {
		return f.Format(config)
	}

	table := f.Table()
	table.SetHeaders("current", "name", "server", "auth")
	table.WriteHeaders()
	for _, name := range config.ListContexts() {
		ctx := config.Contexts[name]
		current := ""
		if name == config.CurrentContext {
			current = "*"
		}
		auth := "none"
		if ctx.APIKey != "" {
			auth = "api-key"
		}
		table.WriteRow(current, name, ctx.Server, auth)
	}
	return table.Flush()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
