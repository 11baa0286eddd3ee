package processor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/models"
)

func TestEntityExtractProcessorDeclinesWithoutExtractor(t *testing.T) {
	p := &EntityExtractProcessor{}
	assert.False(t, p.ShouldProcess(context.Background(), &models.Event{}, &Deps{}))
}

func TestEntityExtractProcessorBadPayload(t *testing.T) {
	_, err := (&EntityExtractProcessor{}).Process(context.Background(), &models.Event{
		Type:    models.EventEntityExtract,
		Payload: json.RawMessage(`{"message_id": 42}`),
	}, &Deps{})
	require.Error(t, err)
	assert.Equal(t, CategoryPermanent, Categorize(err))
}

func TestEntityExtractProcessorSkipsEmptyContent(t *testing.T) {
	// Missing content or a missing graph node both make extraction a no-op.
	for _, payload := range []models.EntityExtractPayload{
		{MessageID: "m-1", NodeID: "n-1"},
		{MessageID: "m-1", Content: "something said"},
	} {
		result, err := (&EntityExtractProcessor{}).Process(context.Background(), &models.Event{
			Type:    models.EventEntityExtract,
			Payload: mustJSON(t, payload),
		}, &Deps{})
		require.NoError(t, err)
		assert.Empty(t, result.Produced)
	}
}

func TestRAGIngestProcessorBadPayload(t *testing.T) {
	_, err := (&RAGIngestProcessor{}).Process(context.Background(), &models.Event{
		Type:    models.EventRAGIngest,
		Payload: json.RawMessage(`{"source": 7}`),
	}, &Deps{})
	require.Error(t, err)
	assert.Equal(t, CategoryPermanent, Categorize(err))
}

func TestRAGIngestProcessorEmptySource(t *testing.T) {
	_, err := (&RAGIngestProcessor{}).Process(context.Background(), &models.Event{
		Type:    models.EventRAGIngest,
		Payload: mustJSON(t, models.RAGIngestPayload{}),
	}, &Deps{})
	require.Error(t, err)
	assert.Equal(t, CategoryPermanent, Categorize(err))
}

func TestRAGIngestProcessorRequiresIngestor(t *testing.T) {
	_, err := (&RAGIngestProcessor{}).Process(context.Background(), &models.Event{
		Type:    models.EventRAGIngest,
		Payload: mustJSON(t, models.RAGIngestPayload{Source: "text:hello"}),
	}, &Deps{})
	require.Error(t, err)
	assert.Equal(t, CategoryPermanent, Categorize(err))
}
