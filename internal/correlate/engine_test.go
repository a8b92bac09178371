package correlate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchExactBeatsSimilarity(t *testing.T) {
	outcomes := Match(
		[]EquipmentRef{{ItemNumber: "64212", Name: "SCISSOR LIFT 19FT"}},
		[]ClassRef{
			{RentalClass: "64212", CommonName: "19 FT SCISSOR LIFT"},
			{RentalClass: "99901", CommonName: "SCISSOR LIFT 19FT ELECTRIC"},
		},
		EngineConfig{},
	)
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Ambiguous)
	require.Equal(t, "64212", outcomes[0].Candidates[0].RentalClass)
	require.Equal(t, MethodExact, outcomes[0].Candidates[0].Method)
	require.Equal(t, 1.0, outcomes[0].Candidates[0].Confidence)
	require.Len(t, outcomes[0].Candidates, 1, "exact tier wins, similarity never runs")
}

func TestMatchLeadingZerosAreExact(t *testing.T) {
	outcomes := Match(
		[]EquipmentRef{{ItemNumber: "0042"}},
		[]ClassRef{{RentalClass: "42", CommonName: "PUMP"}},
		EngineConfig{},
	)
	require.Equal(t, MethodExact, outcomes[0].Candidates[0].Method)
}

func TestMatchNormalizedNumeric(t *testing.T) {
	outcomes := Match(
		[]EquipmentRef{{ItemNumber: "64212.0"}},
		[]ClassRef{{RentalClass: "64-212", CommonName: "SCISSOR LIFT"}},
		EngineConfig{},
	)
	require.Len(t, outcomes[0].Candidates, 1)
	require.Equal(t, MethodNormalized, outcomes[0].Candidates[0].Method)
	require.Equal(t, 0.9, outcomes[0].Candidates[0].Confidence)
}

func TestMatchNameSimilarityThreshold(t *testing.T) {
	outcomes := Match(
		[]EquipmentRef{{ItemNumber: "A-100", Name: "MINI EXCAVATOR 3.5T"}},
		[]ClassRef{
			{RentalClass: "EX35", CommonName: "MINI EXCAVATOR 3.5T"},
			{RentalClass: "GEN20", CommonName: "GENERATOR 20KW TOWABLE"},
		},
		EngineConfig{SimilarityThreshold: 0.7},
	)
	require.Len(t, outcomes[0].Candidates, 1, "unrelated names stay below threshold")
	require.Equal(t, "EX35", outcomes[0].Candidates[0].RentalClass)
	require.Equal(t, MethodNameSimilarity, outcomes[0].Candidates[0].Method)
	require.Equal(t, 1.0, outcomes[0].Candidates[0].Confidence)
}

func TestMatchAmbiguousTie(t *testing.T) {
	outcomes := Match(
		[]EquipmentRef{{ItemNumber: "A-200", Name: "SCISSOR LIFT"}},
		[]ClassRef{
			{RentalClass: "SL19", CommonName: "SCISSOR LIFT"},
			{RentalClass: "SL26", CommonName: "SCISSOR LIFT"},
		},
		EngineConfig{SimilarityThreshold: 0.7, AmbiguityMargin: 0.05},
	)
	require.Len(t, outcomes[0].Candidates, 2)
	require.True(t, outcomes[0].Ambiguous, "two equal scores within the margin tie")
}

func TestMatchNoCandidates(t *testing.T) {
	outcomes := Match(
		[]EquipmentRef{{ItemNumber: "Z-1", Name: "POPCORN MACHINE"}},
		[]ClassRef{{RentalClass: "SL19", CommonName: "SCISSOR LIFT 19FT"}},
		EngineConfig{SimilarityThreshold: 0.7},
	)
	require.Empty(t, outcomes[0].Candidates)
	require.False(t, outcomes[0].Ambiguous)
}

func TestNameSimilarity(t *testing.T) {
	require.Equal(t, 1.0, NameSimilarity("Scissor Lift", "SCISSOR LIFT"))
	require.Zero(t, NameSimilarity("", "SCISSOR LIFT"))
	require.Greater(t, NameSimilarity("SCISSOR LIFT 19FT", "19FT SCISSOR LIFT"), 0.9,
		"token order must not matter")
	require.Less(t, NameSimilarity("SCISSOR LIFT", "POPCORN MACHINE"), 0.3)
}
