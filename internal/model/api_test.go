package model_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/factstore/internal/model"
)

func TestAddFactRequest_ToInput(t *testing.T) {
	id := uuid.New()
	req := model.AddFactRequest{
		EntityType: "organization",
		EntityID:   id.String(),
		FactType:   "metric",
		Key:        "MRR",
		Value:      "200000",
		SourceType: "manual",
		Confidence: ptr(0.9),
	}
	in, err := req.ToInput()
	require.NoError(t, err)
	assert.Equal(t, model.OrganizationSubject(id), in.Subject)
	assert.Equal(t, "MRR", in.Key)
	assert.Equal(t, 0.9, in.EffectiveConfidence())
}

func TestAddFactRequest_ToInputRejectsBadEntityType(t *testing.T) {
	_, err := model.AddFactRequest{EntityType: "fund", EntityID: uuid.NewString()}.ToInput()
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestNewAddFactResponse_Escalation(t *testing.T) {
	resp := model.NewAddFactResponse(model.AddFactResult{
		Classification:       model.ClassificationConflict,
		Resolution:           model.ResolutionEscalated,
		RequiresManualReview: true,
		Conflict:             &model.ConflictRecord{IncomingValue: "999999", Reason: model.ReasonNotMoreConfident},
	})
	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresManualReview)
	assert.NotEmpty(t, resp.Message)

	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"requires_manual_review":true`)
	assert.Contains(t, string(b), `"reason":"different_source_not_more_confident"`)
	assert.NotContains(t, string(b), `"fact_id"`)
}

func TestNewAddFactResponse_Recorded(t *testing.T) {
	id := uuid.New()
	resp := model.NewAddFactResponse(model.AddFactResult{
		FactID:         &id,
		Classification: model.ClassificationNew,
		Resolution:     model.ResolutionNew,
	})
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Message)
	assert.Equal(t, &id, resp.FactID)
}
