package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

const maxInputLineBytes = 1 << 20

type runOptions struct {
	input  string
	output string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one crawl pass over a URL list",
		Long: `Reads URLs from --input (or stdin), one per line, crawls them politely,
and writes one JSON status record per input line to --output (or stdout).
A line may be a bare URL or a JSON object with url, last_fetched,
last_updated, last_status and metadata fields. Blank lines and lines
starting with # are ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "input file, - for stdin")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *runOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	in, closeIn, err := openInput(cmd, opts.input)
	if err != nil {
		return err
	}
	defer closeIn()
	records, err := readRecords(in)
	if err != nil {
		return err
	}
	logger.Info("input loaded", zap.Int("records", len(records)))

	report, runErr := appInstance.Runner().Run(cmd.Context(), records)
	if runErr != nil && report.RunID == "" {
		return fmt.Errorf("run crawl: %w", runErr)
	}

	out, closeOut, err := openOutput(cmd, opts.output)
	if err != nil {
		return err
	}
	if err := writeStatuses(out, report.Output.Statuses); err != nil {
		closeOut()
		return err
	}
	closeOut()

	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	}
	for _, status := range sortedStatuses(report.Counts) {
		fields = append(fields, zap.Int(string(status), report.Counts[status]))
	}
	logger.Info("crawl finished", fields...)
	if runErr != nil {
		return fmt.Errorf("persist run %s: %w", report.RunID, runErr)
	}
	return nil
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// readRecords parses one record per non-blank, non-comment line.
func readRecords(r io.Reader) ([]crawler.URLRecord, error) {
	var records []crawler.URLRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxInputLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if !strings.HasPrefix(text, "{") {
			records = append(records, crawler.URLRecord{URL: text})
			continue
		}
		var rec crawler.URLRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("input line %d: %w", line, err)
		}
		if strings.TrimSpace(rec.URL) == "" {
			return nil, fmt.Errorf("input line %d: url is required", line)
		}
		if rec.LastStatus != "" && !rec.LastStatus.Valid() {
			return nil, fmt.Errorf("input line %d: unknown last_status %q", line, rec.LastStatus)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return records, nil
}

func writeStatuses(w io.Writer, statuses []crawler.StatusRecord) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, s := range statuses {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("write status for %s: %w", s.URL, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func sortedStatuses(counts map[crawler.URLStatus]int) []crawler.URLStatus {
	out := make([]crawler.URLStatus, 0, len(counts))
	for s := range counts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
