package episodestore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/pkg/domain"
)

func TestVectorLiteral_NilIsEmptyString(t *testing.T) {
	assert.Equal(t, "", vectorLiteral(nil))
}

func TestVectorLiteral_FormatsAsPgvectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.1,0.2,0.3]", vectorLiteral([]float32{0.1, 0.2, 0.3}))
}

func TestVectorLiteral_SingleElement(t *testing.T) {
	assert.Equal(t, "[1]", vectorLiteral([]float32{1}))
}

func TestVectorLiteral_EmptySliceIsEmptyBrackets(t *testing.T) {
	assert.Equal(t, "[]", vectorLiteral([]float32{}))
}

func TestDecodeEpisodeFields_PopulatesAllSections(t *testing.T) {
	perception, _ := json.Marshal(map[string]any{"team_size": 5})
	reasoning, _ := json.Marshal(domain.Reasoning{Rationale: "capacity available"})
	action, _ := json.Marshal(domain.Action{SprintCreated: true, TasksAssigned: 5})
	outcome, _ := json.Marshal(domain.Outcome{Success: true, Quality: 0.9})

	var ep domain.Episode
	err := decodeEpisodeFields(&ep, perception, reasoning, action, outcome)

	require.NoError(t, err)
	assert.Equal(t, "capacity available", ep.Reasoning.Rationale)
	require.NotNil(t, ep.Outcome)
	assert.Equal(t, 0.9, ep.Outcome.Quality)
}

func TestDecodeEpisodeFields_EmptyOutcomeLeavesNilPointer(t *testing.T) {
	var ep domain.Episode
	err := decodeEpisodeFields(&ep, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.Nil(t, ep.Outcome)
}

func TestDecodeEpisodeFields_MalformedJSONReturnsError(t *testing.T) {
	var ep domain.Episode
	err := decodeEpisodeFields(&ep, []byte("not json"), nil, nil, nil)
	assert.Error(t, err)
}

func TestDecodeEpisodeFields_MalformedOutcomeReturnsError(t *testing.T) {
	var ep domain.Episode
	err := decodeEpisodeFields(&ep, nil, nil, nil, []byte("{bad"))
	assert.Error(t, err)
}
