package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document and queue it for ingestion",
	Long: `Upload a document and queue it for ingestion.

Examples:
  knowd upload ./notes.md
  knowd upload ./paper.pdf --name "Attention Is All You Need"
  knowd upload ./report.html --chunk-size 800 --chunk-overlap 100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		name, _ := cmd.Flags().GetString("name")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		chunkOverlap, _ := cmd.Flags().GetInt("chunk-overlap")
		noProcess, _ := cmd.Flags().GetBool("no-process")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		fields := map[string]string{
			"name":         name,
			"auto_process": strconv.FormatBool(!noProcess),
		}
		if chunkSize > 0 {
			fields["chunk_size"] = strconv.Itoa(chunkSize)
		}
		if chunkOverlap > 0 {
			fields["chunk_overlap"] = strconv.Itoa(chunkOverlap)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postMultipart(cmd.Context(), "/documents", fields, filepath.Base(path), data)
		if err != nil {
			return err
		}

		var doc struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printSuccess("Uploaded document %s (%s)", doc.ID, doc.Status)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("name", "", "display name for the document (default: file name)")
	uploadCmd.Flags().Int("chunk-size", 0, "chunk size in characters (default: server setting)")
	uploadCmd.Flags().Int("chunk-overlap", 0, "chunk overlap in characters (default: server setting)")
	uploadCmd.Flags().Bool("no-process", false, "upload without scheduling ingestion")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/documents?limit=%d", limit))
		if err != nil {
			return err
		}

		var docs []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			FileType   string `json:"file_type"`
			Status     string `json:"status"`
			ChunkCount int    `json:"chunk_count"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			name := d.Name
			if len(name) > 60 {
				name = name[:60] + "..."
			}
			fmt.Printf("%s  %-10s  %-4s  %4d chunks  %s\n",
				colorize(colorCyan, d.ID[:8]),
				statusLabel(d.Status),
				d.FileType,
				d.ChunkCount,
				name,
			)
		}
		return nil
	},
}

func statusLabel(status string) string {
	switch status {
	case "COMPLETED":
		return colorize(colorGreen, status)
	case "FAILED":
		return colorize(colorRed, status)
	case "PROCESSING":
		return colorize(colorYellow, status)
	default:
		return status
	}
}

func init() {
	docsCmd.Flags().Int("limit", 20, "maximum number of documents to list")
}

// --- doc ---

var docCmd = &cobra.Command{
	Use:   "doc <id>",
	Short: "Show a single document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

// --- reprocess ---

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <id>",
	Short: "Re-run ingestion for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		chunkOverlap, _ := cmd.Flags().GetInt("chunk-overlap")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{}
		if chunkSize > 0 {
			body["chunk_size"] = chunkSize
		}
		if chunkOverlap > 0 {
			body["chunk_overlap"] = chunkOverlap
		}

		resp, err := client.post(cmd.Context(), "/documents/"+args[0]+"/reprocess", body)
		if err != nil {
			return err
		}

		var doc struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printSuccess("Queued document %s for reprocessing", doc.ID)
		return nil
	},
}

func init() {
	reprocessCmd.Flags().Int("chunk-size", 0, "new chunk size (default: keep current)")
	reprocessCmd.Flags().Int("chunk-overlap", 0, "new chunk overlap (default: keep current)")
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Semantic search over ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query", map[string]any{
			"query": text,
			"top_k": limit,
		})
		if err != nil {
			return err
		}

		var result struct {
			Matches []struct {
				Score        float32 `json:"score"`
				Text         string  `json:"text"`
				DocumentName string  `json:"document_name"`
				ChunkIndex   int     `json:"chunk_index"`
			} `json:"matches"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Matches) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, m := range result.Matches {
			fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), m.Score)
			if m.DocumentName != "" {
				fmt.Printf("  %s (chunk %d)\n", m.DocumentName, m.ChunkIndex)
			}
			text := m.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().Int("limit", 5, "maximum number of results")
}
