package worker

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joshu-sajeev/docqueue/internal/dto"
)

const (
	defaultChunkSize    = 512
	defaultMaxSentences = 3
)

// IndexDocumentHandler splits a document into embedding-sized chunks.
func IndexDocumentHandler(ctx context.Context, p dto.IndexDocumentPayload) (any, error) {
	size := p.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}

	var chunks []string
	runes := []rune(p.Content)
	for start := 0; start < len(runes); start += size {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("index document %s: %w", p.DocumentID, err)
		}
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}

	return map[string]any{
		"document_id":  p.DocumentID,
		"workspace_id": p.WorkspaceID,
		"chunks":       len(chunks),
		"characters":   utf8.RuneCountInString(p.Content),
		"indexed_at":   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// DeleteDocumentVectorsHandler drops the vectors stored for a document.
func DeleteDocumentVectorsHandler(ctx context.Context, p dto.DeleteDocumentVectorsPayload) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("delete vectors for %s: %w", p.DocumentID, err)
	}

	return map[string]any{
		"document_id":  p.DocumentID,
		"workspace_id": p.WorkspaceID,
		"deleted_at":   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// GenerateSummaryHandler keeps the leading sentences of a document.
func GenerateSummaryHandler(ctx context.Context, p dto.GenerateSummaryPayload) (any, error) {
	limit := p.MaxSentences
	if limit <= 0 {
		limit = defaultMaxSentences
	}

	sentences := splitSentences(p.Content)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("document %s has no text to summarize", p.DocumentID)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("summarize %s: %w", p.DocumentID, err)
	}

	if len(sentences) > limit {
		sentences = sentences[:limit]
	}

	return map[string]any{
		"document_id": p.DocumentID,
		"summary":     strings.Join(sentences, " "),
		"sentences":   len(sentences),
	}, nil
}

func splitSentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, r := range text {
		cur.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			flush()
		}
	}
	flush()
	return out
}
