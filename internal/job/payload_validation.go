package job

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/joshu-sajeev/docqueue/common"
	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/dto"
	"github.com/joshu-sajeev/docqueue/middleware"
)

var validate = validator.New()

// decodePayload turns the raw payload into the typed payload for t.
func decodePayload(t config.JobType, raw json.RawMessage) (dto.Payload, error) {
	switch t {
	case config.JobTypeIndexDocument:
		return validatePayload[dto.IndexDocumentPayload](raw)
	case config.JobTypeDeleteDocumentVectors:
		return validatePayload[dto.DeleteDocumentVectorsPayload](raw)
	case config.JobTypeGenerateSummary:
		return validatePayload[dto.GenerateSummaryPayload](raw)
	default:
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid job type",
			map[string]any{
				"provided": t,
				"allowed":  config.AllowedJobTypes,
			},
		)
	}
}

func validatePayload[T dto.Payload](raw json.RawMessage) (dto.Payload, error) {
	var payload T

	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, common.APIError{
			Status:  http.StatusBadRequest,
			Message: "invalid payload format",
		}
	}

	if err := validate.Struct(payload); err != nil {
		return nil, common.APIError{
			Status:  http.StatusBadRequest,
			Message: "payload validation failed",
			Fields:  middleware.FormatValidationErrors(err),
		}
	}

	return payload, nil
}
