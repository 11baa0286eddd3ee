package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/tools"
)

// stubProcessor lets tests script dispatch behavior.
type stubProcessor struct {
	eventType models.EventType
	priority  int
	accepts   bool
	result    *Result
	err       error
	called    *int
}

func (s *stubProcessor) EventType() models.EventType { return s.eventType }
func (s *stubProcessor) Priority() int               { return s.priority }

func (s *stubProcessor) ShouldProcess(context.Context, *models.Event, *Deps) bool {
	return s.accepts
}

func (s *stubProcessor) Process(context.Context, *models.Event, *Deps) (*Result, error) {
	if s.called != nil {
		*s.called++
	}
	return s.result, s.err
}

func TestRegistryDispatchPriority(t *testing.T) {
	lowCalls, highCalls := 0, 0
	r := NewRegistry()
	r.Register(&stubProcessor{eventType: models.EventNewMessage, priority: 0, accepts: true, called: &lowCalls, result: &Result{}})
	r.Register(&stubProcessor{eventType: models.EventNewMessage, priority: 10, accepts: true, called: &highCalls, result: &Result{}})

	_, err := r.Dispatch(context.Background(), &models.Event{Type: models.EventNewMessage}, &Deps{})
	require.NoError(t, err)
	assert.Equal(t, 1, highCalls)
	assert.Zero(t, lowCalls)
}

func TestRegistryDispatchFallsThrough(t *testing.T) {
	declinedCalls, acceptedCalls := 0, 0
	r := NewRegistry()
	r.Register(&stubProcessor{eventType: models.EventNewMessage, priority: 10, accepts: false, called: &declinedCalls})
	r.Register(&stubProcessor{eventType: models.EventNewMessage, priority: 0, accepts: true, called: &acceptedCalls, result: &Result{}})

	_, err := r.Dispatch(context.Background(), &models.Event{Type: models.EventNewMessage}, &Deps{})
	require.NoError(t, err)
	assert.Zero(t, declinedCalls)
	assert.Equal(t, 1, acceptedCalls)
}

func TestRegistryDispatchNoProcessor(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), &models.Event{Type: models.EventLLMCall}, &Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoProcessor)
	assert.Equal(t, CategoryPermanent, Categorize(err))
}

func TestDefaultRegistryCoversBuiltinTypes(t *testing.T) {
	r := Default()
	for _, typ := range []models.EventType{
		models.EventNewMessage,
		models.EventLLMCall,
		models.EventToolCall,
		models.EventEntityExtract,
		models.EventRAGIngest,
	} {
		assert.NotEmpty(t, r.byType[typ], "no processor registered for %s", typ)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{
			name:     "wrapped transient",
			err:      Transient(errors.New("provider 503")),
			expected: CategoryTransient,
		},
		{
			name:     "wrapped permanent",
			err:      Permanent(errors.New("bad payload")),
			expected: CategoryPermanent,
		},
		{
			name:     "wrapped fatal",
			err:      Fatal(errors.New("lease lost")),
			expected: CategoryFatal,
		},
		{
			name:     "categorized error survives wrapping",
			err:      fmt.Errorf("dispatch: %w", Permanent(errors.New("bad payload"))),
			expected: CategoryPermanent,
		},
		{
			name:     "context canceled",
			err:      context.Canceled,
			expected: CategoryCancelled,
		},
		{
			name:     "deadline exceeded retries",
			err:      context.DeadlineExceeded,
			expected: CategoryTransient,
		},
		{
			name:     "invalid tool args",
			err:      tools.ErrInvalidArgs,
			expected: CategoryPermanent,
		},
		{
			name:     "unknown tool",
			err:      tools.ErrToolNotFound,
			expected: CategoryPermanent,
		},
		{
			name:     "plain error defaults to transient",
			err:      errors.New("connection reset"),
			expected: CategoryTransient,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Categorize(tc.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Transient(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "boom")
}
