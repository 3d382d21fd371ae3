package types

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	set := NewSet([]any{1, "a"}, []any{2, "b"}, []any{1, "a"})
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Exists([]any{2, "b"}))
	assert.False(t, set.Exists([]any{3, "c"}))

	set.Remove([]any{1, "a"})
	assert.Equal(t, [][]any{{2, "b"}}, set.Array())

	set.Insert([]any{1, "a"})
	assert.True(t, set.Exists([]any{1, "a"}))
	assert.Equal(t, 2, set.Len())
}

func TestSetJSON(t *testing.T) {
	set := NewSet("dbo.a", "dbo.b")
	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["dbo.a","dbo.b"]`, string(data))

	decoded := NewSet[string]()
	require.NoError(t, json.Unmarshal(data, decoded))
	assert.Equal(t, []string{"dbo.a", "dbo.b"}, decoded.Array())
}

func TestTableSchemaFingerprint(t *testing.T) {
	base := TableSchema{
		Table:      "dbo.orders",
		Columns:    []Column{{Name: "id", Type: Int64}, {Name: "total", Type: Float64, Nullable: true}},
		PrimaryKey: []string{"id"},
	}
	same := base
	changed := base
	changed.Columns = append([]Column{}, base.Columns...)
	changed.Columns = append(changed.Columns, Column{Name: "note", Type: String, Nullable: true})

	assert.True(t, base.SameAs(same))
	assert.False(t, base.SameAs(changed))

	key, err := base.KeyOf(Record{"id": int64(4), "total": 1.5})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(4)}, key)

	_, err = base.KeyOf(Record{"total": 1.5})
	assert.Error(t, err)
}
