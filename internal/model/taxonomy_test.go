package model_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/factstore/internal/model"
)

func TestKnownSourceType(t *testing.T) {
	assert.True(t, model.KnownSourceType("attio"))
	assert.True(t, model.KnownSourceType("angellist_csv"))
	assert.False(t, model.KnownSourceType("hubspot"))
}

func TestTaxonomy_NoteCaseVariantsAreDistinct(t *testing.T) {
	tax := model.DefaultTaxonomy()
	assert.True(t, tax.HasFactType("note"))
	assert.True(t, tax.HasFactType("NOTE"))
	assert.False(t, tax.HasFactType("Note"))
}

func TestParseTaxonomy_ExtendsDefaults(t *testing.T) {
	tax, err := model.ParseTaxonomy([]byte("source_types:\n  - hubspot\n  - attio\nfact_types:\n  - kpi\n"))
	require.NoError(t, err)
	assert.True(t, tax.HasSourceType("hubspot"))
	assert.True(t, tax.HasSourceType("manual"))
	assert.True(t, tax.HasFactType("kpi"))

	count := 0
	for _, s := range tax.SourceTypes {
		if s == "attio" {
			count++
		}
	}
	assert.Equal(t, 1, count, "merge must not duplicate entries")
}

func TestParseTaxonomy_Errors(t *testing.T) {
	_, err := model.ParseTaxonomy([]byte("source_types: [\"\"]\n"))
	assert.Error(t, err)

	_, err = model.ParseTaxonomy([]byte("source_types: {not: a list}\n"))
	assert.Error(t, err)
}

func TestTaxonomy_Check(t *testing.T) {
	tax := model.DefaultTaxonomy()
	in := model.FactInput{
		Subject:    model.PersonSubject(uuid.New()),
		FactType:   "metric",
		Key:        "k",
		Value:      "v",
		SourceType: "manual",
	}
	assert.NoError(t, tax.Check(in))

	in.SourceType = "hubspot"
	assert.ErrorIs(t, tax.Check(in), model.ErrValidation)

	in.SourceType = "manual"
	in.FactType = "kpi"
	assert.ErrorIs(t, tax.Check(in), model.ErrValidation)
}
