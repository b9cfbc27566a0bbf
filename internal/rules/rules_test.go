package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_And_Evaluate(t *testing.T) {
	set, err := Compile([]Rule{
		{Name: "hot-station", Expr: "Score >= 0.5"},
		{Name: "busy-lane", Expr: "QueueCustomers >= 4 && QueueDwell > 60.0"},
		{Name: "evidence-heavy", Expr: "len(Reasons) >= 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	fired := set.Evaluate(Snapshot{
		Station:        "SCC1",
		Score:          0.7,
		Reasons:        []string{"a", "b", "c"},
		QueueCustomers: 5,
		QueueDwell:     90,
	})
	assert.Equal(t, []string{"hot-station", "busy-lane", "evidence-heavy"}, fired)

	fired = set.Evaluate(Snapshot{Score: 0.1})
	assert.Empty(t, fired)
}

func TestCompile_RejectsBadExpression(t *testing.T) {
	_, err := Compile([]Rule{{Name: "broken", Expr: "NoSuchField > 1"}})
	assert.Error(t, err)
}

func TestCompile_RejectsNonBoolean(t *testing.T) {
	_, err := Compile([]Rule{{Name: "not-bool", Expr: "Score + 1.0"}})
	assert.Error(t, err)
}

func TestCompile_RejectsEmptyNameOrExpr(t *testing.T) {
	_, err := Compile([]Rule{{Name: "", Expr: "true"}})
	assert.Error(t, err)

	_, err = Compile([]Rule{{Name: "x", Expr: ""}})
	assert.Error(t, err)
}

func TestEvaluate_NilSetIsNoop(t *testing.T) {
	var s *Set
	assert.Empty(t, s.Evaluate(Snapshot{Score: 1}))
	assert.Equal(t, 0, s.Len())
}
