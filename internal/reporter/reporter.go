// Package reporter persists scan results: the plain vulnerable-requests log
// and the end-of-run report.
package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ngescape/internal/models"

	"github.com/rs/zerolog/log"
)

// ScanSummary provides a high-level overview of the scan results.
type ScanSummary struct {
	TargetURL            string    `json:"target_url"`
	AngularVersion       string    `json:"angular_version"`
	ScanStartTime        time.Time `json:"scan_start_time"`
	ScanEndTime          time.Time `json:"scan_end_time"`
	TotalDuration        string    `json:"total_duration"`
	PagesCrawled         int       `json:"pages_crawled"`
	PagesCancelled       int       `json:"pages_cancelled"`
	VulnerabilitiesFound int       `json:"vulnerabilities_found"`
}

// Report is the top-level structure for the final report.
type Report struct {
	Summary         ScanSummary               `json:"summary"`
	Configuration   any                       `json:"configuration,omitempty"`
	Vulnerabilities []models.VulnerableResult `json:"vulnerabilities"`
}

// Exporter writes a finished report.
type Exporter interface {
	Export(report Report) error
}

// NewExporter picks the exporter for outputPath by extension: .txt gives
// a text report, anything else JSON.
func NewExporter(outputPath string) (Exporter, error) {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if strings.EqualFold(filepath.Ext(outputPath), ".txt") {
		return &TxtExporter{OutputPath: outputPath}, nil
	}
	return &JSONExporter{OutputPath: outputPath}, nil
}

// JSONExporter handles the creation of the JSON report file.
type JSONExporter struct {
	OutputPath string
}

// Export generates and saves the JSON report.
func (e *JSONExporter) Export(report Report) error {
	if report.Vulnerabilities == nil {
		report.Vulnerabilities = []models.VulnerableResult{}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}

	if err := os.WriteFile(e.OutputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report to file: %w", err)
	}

	log.Info().Str("path", e.OutputPath).Msg("JSON report saved successfully.")
	return nil
}

// TxtExporter handles the creation of the TXT report file.
type TxtExporter struct {
	OutputPath string
}

// Export generates and saves the TXT report.
func (e *TxtExporter) Export(report Report) error {
	var b strings.Builder
	s := report.Summary

	b.WriteString("AngularJS CSTI Scan Report\n")
	b.WriteString("===================================\n")
	fmt.Fprintf(&b, "Target URL:            %s\n", s.TargetURL)
	fmt.Fprintf(&b, "AngularJS version:     %s\n", s.AngularVersion)
	fmt.Fprintf(&b, "Scan Start Time:       %s\n", s.ScanStartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "Scan End Time:         %s\n", s.ScanEndTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total Duration:        %s\n", s.TotalDuration)
	fmt.Fprintf(&b, "Pages Crawled:         %d\n", s.PagesCrawled)
	fmt.Fprintf(&b, "Pages Cancelled:       %d\n", s.PagesCancelled)
	fmt.Fprintf(&b, "Vulnerabilities Found: %d\n", s.VulnerabilitiesFound)
	b.WriteString("===================================\n")

	if len(report.Vulnerabilities) == 0 {
		b.WriteString("\nNo vulnerable requests found.\n")
	}
	for _, v := range report.Vulnerabilities {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Detection Time: %s\n", v.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "Request:        %s\n", v.Request.String())
		fmt.Fprintf(&b, "Injected via:   %s (%s)\n", v.Action, v.Point)
		fmt.Fprintf(&b, "Payload:        %s\n", v.Payload.Value)
		fmt.Fprintf(&b, "Confirmed:      %t\n", v.Confirmed)
		if v.Message != "" {
			fmt.Fprintf(&b, "Note:           %s\n", v.Message)
		}
		b.WriteString("-----------------------------------\n")
	}

	if err := os.WriteFile(e.OutputPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write TXT report to file: %w", err)
	}

	log.Info().Str("path", e.OutputPath).Msg("TXT report saved successfully.")
	return nil
}
