// =============================================================================
// SEND COMMAND - SUBMIT RECORDS
// =============================================================================
//
// USAGE:
//   batchrelay-cli send [flags]
//
// RECORD SOURCES (exactly one):
//   --user-id/--total/--title/--completed    build one record from flags
//   -d, --data                               one raw JSON object
//   -f, --file                               JSON object, JSON array, or
//                                            JSON Lines (.jsonl/.ndjson or --lines)
//
// Every record gets its own POST /log and its own result row. The command
// fails if any record was not accepted.
//
// =============================================================================

package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"batchrelay/internal/cli"
)

var (
	sendUserID    int64
	sendTotal     float64
	sendTitle     string
	sendCompleted bool
	sendData      string
	sendFile      string
	sendLines     bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit log records",
	Long: `Submit one or more log records to POST /log.

Examples:
  # From flags
  batchrelay-cli send --user-id 7 --total 12.5 --title checkout --completed

  # Raw JSON
  batchrelay-cli send -d '{"user_id":7,"total":12.5,"title":"checkout","completed":false}'

  # One record per line, with a result per line
  batchrelay-cli send -f records.jsonl

  # From stdin
  cat records.jsonl | batchrelay-cli send -f - --lines`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().Int64Var(&sendUserID, "user-id", 0, "user_id of the record")
	sendCmd.Flags().Float64Var(&sendTotal, "total", 0, "total of the record")
	sendCmd.Flags().StringVar(&sendTitle, "title", "", "title of the record")
	sendCmd.Flags().BoolVar(&sendCompleted, "completed", false, "mark the record completed")
	sendCmd.Flags().StringVarP(&sendData, "data", "d", "", "raw JSON record")
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "file with records, - for stdin")
	sendCmd.Flags().BoolVar(&sendLines, "lines", false, "treat --file as JSON Lines")

	sendCmd.MarkFlagsMutuallyExclusive("data", "file", "title")
	sendCmd.MarkFlagsMutuallyExclusive("data", "file", "user-id")
}

// pendingRecord is one record to send. line is 0 unless it came from a
// JSON Lines source; err is set when the line could not be parsed.
type pendingRecord struct {
	line int
	body json.RawMessage
	err  error
}

func runSend(cmd *cobra.Command, args []string) error {
	records, err := collectRecords(cmd)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records to send")
	}

	results := make([]*cli.SendResult, 0, len(records))
	rejected := 0
	for _, rec := range records {
		if rec.err != nil {
			results = append(results, &cli.SendResult{Line: rec.line, Message: rec.err.Error()})
			rejected++
			continue
		}

		ctx, cancel := getContext(cmd)
		res, err := client.SendRecord(ctx, rec.body)
		cancel()
		if err != nil {
			return err
		}
		res.Line = rec.line
		if !res.Accepted {
			rejected++
		}
		results = append(results, res)
	}

	if err := formatter.FormatSendResults(results); err != nil {
		return err
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d records were not accepted", rejected, len(results))
	}
	return nil
}

// collectRecords reads records from whichever source the flags name.
func collectRecords(cmd *cobra.Command) ([]pendingRecord, error) {
	flags := cmd.Flags()
	switch {
	case sendFile != "":
		return readRecordFile(cmd, sendFile)
	case sendData != "":
		if !json.Valid([]byte(sendData)) {
			return nil, fmt.Errorf("--data is not valid JSON")
		}
		return []pendingRecord{{body: json.RawMessage(sendData)}}, nil
	case flags.Changed("title") || flags.Changed("user-id") || flags.Changed("total") || flags.Changed("completed"):
		return []pendingRecord{{body: recordFromFlags(cmd)}}, nil
	default:
		return nil, fmt.Errorf("one of --data, --file or the record flags is required")
	}
}

// recordFromFlags builds a record from the changed flags only, so that the
// server reports unset required fields instead of receiving zero values.
func recordFromFlags(cmd *cobra.Command) json.RawMessage {
	flags := cmd.Flags()
	rec := map[string]interface{}{}
	if flags.Changed("user-id") {
		rec["user_id"] = sendUserID
	}
	if flags.Changed("total") {
		rec["total"] = sendTotal
	}
	if flags.Changed("title") {
		rec["title"] = sendTitle
	}
	if flags.Changed("completed") {
		rec["completed"] = sendCompleted
	}
	body, _ := json.Marshal(rec)
	return body
}

func readRecordFile(cmd *cobra.Command, path string) ([]pendingRecord, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	ext := strings.ToLower(filepath.Ext(path))
	if sendLines || ext == ".jsonl" || ext == ".ndjson" {
		return readJSONLines(r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		records := make([]pendingRecord, len(items))
		for i, item := range items {
			records[i] = pendingRecord{line: i + 1, body: item}
		}
		return records, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON (use --lines for JSON Lines)", path)
	}
	return []pendingRecord{{body: data}}, nil
}

// readJSONLines returns one record per non-blank, non-comment line. Lines that
// are not valid JSON are kept with an error so they show up in the results.
func readJSONLines(r io.Reader) ([]pendingRecord, error) {
	var records []pendingRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec := pendingRecord{line: lineNum}
		if json.Valid([]byte(line)) {
			rec.body = json.RawMessage(line)
		} else {
			rec.err = fmt.Errorf("invalid JSON")
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
