// Package cli provides output writers for the IntelliLearn CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/go-units"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/upload"
	"github.com/hyperjump/intellilearn/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteTopics writes a topic list.
func WriteTopics(w io.Writer, list *models.TopicList, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, list)
	}
	if len(list.Topics) == 0 {
		fmt.Fprintln(w, "No topics.")
		return nil
	}
	fmt.Fprintf(w, "%d topic(s)\n", len(list.Topics))
	for _, t := range list.Topics {
		fmt.Fprintf(w, "  %s  %s", t.ID, t.Name)
		if t.Description != "" {
			fmt.Fprintf(w, " - %s", utils.Truncate(t.Description, 60))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteDocuments writes a document list, placeholders included.
func WriteDocuments(w io.Writer, docs []models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []models.Document{}
		}
		return writeJSON(w, models.DocumentList{Documents: toPtrs(docs), Count: len(docs)})
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	fmt.Fprintf(w, "%-38s %-11s %5s %6s  %s\n", "ID", "STATUS", "PROG", "CHUNKS", "FILE")
	for _, d := range docs {
		id := d.ID
		if d.Placeholder {
			id = "(pending upload)"
		}
		chunks := "-"
		if d.Status == models.StatusDone {
			chunks = fmt.Sprint(d.ChunkCount)
		}
		fmt.Fprintf(w, "%-38s %-11s %4d%% %6s  %s\n", id, d.Status, models.ClampPercent(d.ProgressPercent), chunks, d.FileName)
		if d.Status == models.StatusFailed && d.StageDetails != "" {
			fmt.Fprintf(w, "%-38s   error: %s\n", "", utils.Truncate(d.StageDetails, 80))
		}
	}
	return nil
}

func toPtrs(docs []models.Document) []*models.Document {
	out := make([]*models.Document, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}
	return out
}

// WriteStatus writes a single document status.
func WriteStatus(w io.Writer, st *models.DocumentStatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Document: %s\n", st.DocumentID)
	if st.FileName != "" {
		fmt.Fprintf(w, "File:     %s\n", st.FileName)
	}
	fmt.Fprintf(w, "Status:   %s\n", st.Status)
	fmt.Fprintf(w, "Progress: %s %d%%\n", ProgressBar(st.ProgressPercent, 20), st.ProgressPercent)
	if st.ProcessingStage != "" {
		fmt.Fprintf(w, "Stage:    %s\n", st.ProcessingStage)
	}
	if st.StageDetails != "" {
		fmt.Fprintf(w, "Details:  %s\n", st.StageDetails)
	}
	if st.Status == models.StatusDone {
		fmt.Fprintf(w, "Chunks:   %d\n", st.ChunkCount)
	}
	return nil
}

// WriteSearchResults writes search hits to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results for %q\n\n", response.Count, response.Query)
	for i, hit := range response.Hits {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | %s (chunk %d)\n", i+1, hit.Score, hit.FileName, hit.ChunkIndex)
		fmt.Fprintf(w, "Document: %s\n", hit.DocumentID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(utils.OneLine(hit.Content), 200))
	}
	return nil
}

// ProgressBar renders percent as a fixed-width bar.
func ProgressBar(percent, width int) string {
	if width <= 0 {
		return ""
	}
	filled := models.ClampPercent(percent) * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// ProgressLine renders one upload session state for a file, e.g. for a live status line.
func ProgressLine(file string, s upload.State) string {
	switch s.Phase {
	case upload.PhaseUploading:
		return fmt.Sprintf("%s: uploading...", file)
	case upload.PhaseProcessing:
		line := fmt.Sprintf("%s: %s %3d%%", file, ProgressBar(s.ProgressPercent(), 20), s.ProgressPercent())
		if stage := s.ProcessingStage(); stage != "" {
			line += " " + stage
		}
		return line
	case upload.PhaseDone:
		chunks := 0
		if s.Progress != nil {
			chunks = s.Progress.ChunkCount
		}
		return fmt.Sprintf("%s: done (%d chunks) [%s]", file, chunks, s.DocumentID)
	case upload.PhaseFailed:
		return fmt.Sprintf("%s: failed: %v", file, s.Err)
	default:
		return fmt.Sprintf("%s: idle", file)
	}
}

// WriteConversations writes the conversation index.
func WriteConversations(w io.Writer, convs []*models.Conversation, format OutputFormat) error {
	if format == OutputJSON {
		if convs == nil {
			convs = []*models.Conversation{}
		}
		return writeJSON(w, convs)
	}
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return nil
	}
	for _, c := range convs {
		fmt.Fprintf(w, "  %s  %-30s %3d msg  %s\n", c.ID, utils.Truncate(c.Title, 30), len(c.Messages), c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// WriteConversation writes one conversation with its messages.
func WriteConversation(w io.Writer, c *models.Conversation, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, c)
	}
	fmt.Fprintf(w, "%s\n%s\n", c.Title, rule)
	for _, m := range c.Messages {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Time.Format("15:04"), m.Role, m.Text)
	}
	return nil
}

// WriteStats writes backend statistics.
func WriteStats(w io.Writer, st *models.StatsResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Documents:      %d\n", st.Documents)
	fmt.Fprintf(w, "Chunks:         %d (%d indexed)\n", st.Chunks, st.IndexedChunks)
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:     %s\n", units.BytesSize(float64(*st.DiskUsageBytes)))
	}
	if c := st.Config; c != nil {
		fmt.Fprintf(w, "Chunking:       %d words, %d overlap\n", c.ChunkSize, c.ChunkOverlap)
		if c.MaxUploadBytes > 0 {
			fmt.Fprintf(w, "Max upload:     %s\n", units.BytesSize(float64(c.MaxUploadBytes)))
		}
	}
	return nil
}
