package dto

import "github.com/joshu-sajeev/docqueue/internal/config"

// Payload is implemented by every typed job payload. The job type of a
// record is always derived from its payload.
type Payload interface {
	JobType() config.JobType
}

type IndexDocumentPayload struct {
	DocumentID  string `json:"document_id" validate:"required"`
	WorkspaceID string `json:"workspace_id" validate:"required"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content" validate:"required"`
	ChunkSize   int    `json:"chunk_size,omitempty" validate:"omitempty,gte=64,lte=8192"`
}

func (IndexDocumentPayload) JobType() config.JobType { return config.JobTypeIndexDocument }

type DeleteDocumentVectorsPayload struct {
	DocumentID  string `json:"document_id" validate:"required"`
	WorkspaceID string `json:"workspace_id" validate:"required"`
}

func (DeleteDocumentVectorsPayload) JobType() config.JobType {
	return config.JobTypeDeleteDocumentVectors
}

type GenerateSummaryPayload struct {
	DocumentID   string `json:"document_id" validate:"required"`
	Content      string `json:"content" validate:"required"`
	MaxSentences int    `json:"max_sentences,omitempty" validate:"omitempty,gte=1,lte=20"`
}

func (GenerateSummaryPayload) JobType() config.JobType { return config.JobTypeGenerateSummary }
