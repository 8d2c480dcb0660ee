// package formatter renders the video catalog for humans and exports it to CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
)

// Formats lists the supported export formats.
var Formats = []Format{FormatCSV, FormatMarkdown, FormatText, FormatJSON}

// ParseFormat accepts a format name or a common alias ("markdown", "text").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
	}
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatSize renders n bytes in base 1024 with at most two decimals, e.g. "1.5 KB".
//
// Values past the largest unit stay in GB.
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}

	v, i := float64(n), 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}

	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return s + " " + sizeUnits[i]
}

// FormatDate renders an ISO-8601 timestamp in local time, or returns it unchanged if it does not parse.
func FormatDate(iso string) string {
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return iso
	}
	return t.Local().Format("Jan 2, 2006 3:04 PM")
}

// FormatRelative renders an ISO-8601 timestamp relative to now, e.g. "3 hours ago".
func FormatRelative(iso string, now time.Time) string {
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return iso
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Summary describes the catalog size, e.g. "1,204 videos, 3.2 GB".
func Summary(entries []models.VideoEntry) string {
	total := lo.SumBy(entries, func(e models.VideoEntry) int64 { return e.Size })
	noun := "videos"
	if len(entries) == 1 {
		noun = "video"
	}
	return fmt.Sprintf("%s %s, %s", humanize.Comma(int64(len(entries))), noun, FormatSize(total))
}

// ExportToCSV converts entries to CSV with columns: ID, Title, URL, Size, Content Type, Uploaded At
func ExportToCSV(entries []models.VideoEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Title", "URL", "Size", "Content Type", "Uploaded At"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	records := lo.Map(entries, func(e models.VideoEntry, _ int) []string {
		return []string{
			strconv.FormatInt(e.ID, 10),
			e.Title,
			e.URL,
			strconv.FormatInt(e.Size, 10),
			e.ContentType,
			e.UploadedAt,
		}
	})
	if err := writer.WriteAll(records); err != nil {
		return nil, fmt.Errorf("failed to write CSV records: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts entries to a Markdown table under heading.
func ExportToMarkdown(entries []models.VideoEntry, heading string) ([]byte, error) {
	var buf bytes.Buffer

	if heading == "" {
		heading = "Videos"
	}
	fmt.Fprintf(&buf, "# %s\n\n", heading)
	fmt.Fprintf(&buf, "**Total**: %s\n\n", Summary(entries))

	if len(entries) == 0 {
		buf.WriteString("_No videos._\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("| ID | Title | Size | Uploaded |\n")
	buf.WriteString("|---:|---|---:|---|\n")
	for _, e := range entries {
		fmt.Fprintf(&buf, "| %d | [%s](%s) | %s | %s |\n",
			e.ID, escapeMarkdown(e.Title), e.URL, FormatSize(e.Size), FormatDate(e.UploadedAt))
	}

	return buf.Bytes(), nil
}

// ExportToText converts entries to plain text, one numbered line per video.
func ExportToText(entries []models.VideoEntry) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Videos: %s\n\n", Summary(entries))
	for i, e := range entries {
		fmt.Fprintf(&buf, "%d. %s (%s) #%d\n", i+1, e.Title, FormatSize(e.Size), e.ID)
	}

	return buf.Bytes(), nil
}

// ExportToJSON converts entries to indented JSON. A nil slice becomes [].
func ExportToJSON(entries []models.VideoEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.VideoEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// Export renders entries in format.
func Export(format Format, entries []models.VideoEntry) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(entries)
	case FormatMarkdown:
		return ExportToMarkdown(entries, "")
	case FormatText:
		return ExportToText(entries)
	case FormatJSON:
		return ExportToJSON(entries)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// DefaultFilename is the export file name used when none is given, e.g. "videos.csv".
func DefaultFilename(format Format) string {
	return "videos." + string(format)
}

// WriteExport renders entries in format and writes them to path on fs, creating parent
// directories. An empty path uses [DefaultFilename]. It returns the written path.
func WriteExport(fs afero.Fs, format Format, entries []models.VideoEntry, path string) (string, error) {
	if path == "" {
		path = DefaultFilename(format)
	}

	data, err := Export(format, entries)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", format, err)
	}

	return path, nil
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("|", `\|`, "[", `\[`, "]", `\]`).Replace(s)
}
