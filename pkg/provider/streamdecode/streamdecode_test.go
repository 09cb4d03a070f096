package streamdecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallAccumulator_StartAppendFinish(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Start(0, "call_1", "get_weather")
	acc.AppendArgs(0, `{"city":`)
	acc.AppendArgs(0, `"SF"}`)

	tc, ok := acc.Finish(0)
	require.True(t, ok)
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "get_weather", tc.Name)
	assert.Equal(t, "SF", tc.Arguments["city"])
}

func TestToolCallAccumulator_FinishUnknownIndexReturnsFalse(t *testing.T) {
	acc := NewToolCallAccumulator()
	_, ok := acc.Finish(7)
	assert.False(t, ok)
}

func TestToolCallAccumulator_MalformedJSONFallsBackToEmptyObject(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Start(0, "call_1", "broken")
	acc.AppendArgs(0, `{not valid json`)

	tc, ok := acc.Finish(0)
	require.True(t, ok)
	assert.Empty(t, tc.Arguments)
}

func TestToolCallAccumulator_SynthesizesIDWhenMissing(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Start(0, "", "unnamed_id_call")

	tc, ok := acc.Finish(0)
	require.True(t, ok)
	assert.NotEmpty(t, tc.ID)
}

func TestToolCallAccumulator_AppendArgsWithoutStartStillAccumulates(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.AppendArgs(3, `{"x":1}`)

	tc, ok := acc.Finish(3)
	require.True(t, ok)
	assert.Equal(t, float64(1), tc.Arguments["x"])
}

func TestToolCallAccumulator_FinishAllPreservesOrder(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Start(2, "c2", "second")
	acc.Start(0, "c0", "first")
	acc.Start(1, "c1", "third-index-but-appended-third")

	calls := acc.FinishAll()
	require.Len(t, calls, 3)
	assert.Equal(t, "second", calls[0].Name)
	assert.Equal(t, "first", calls[1].Name)
	assert.Equal(t, "third-index-but-appended-third", calls[2].Name)
}

func TestToolCallAccumulator_FinishAllOnEmptyReturnsNil(t *testing.T) {
	acc := NewToolCallAccumulator()
	assert.Empty(t, acc.FinishAll())
}

func TestUsageAccumulator_NilUntilSeen(t *testing.T) {
	var u UsageAccumulator
	assert.Nil(t, u.Usage())
}

func TestUsageAccumulator_SumsAcrossAdds(t *testing.T) {
	var u UsageAccumulator
	u.Add(10, 2)
	u.Add(5, 1)

	usage := u.Usage()
	require.NotNil(t, usage)
	assert.Equal(t, 15, usage.InputTokens)
	assert.Equal(t, 3, usage.OutputTokens)
}
