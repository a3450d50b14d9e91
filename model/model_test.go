package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConditions_OverlayWins(t *testing.T) {
	base := Conditions{"id": "7", "ownerId": "u2"}
	overlay := Conditions{"ownerId": "u1"}

	merged := MergeConditions(base, overlay)

	assert.Equal(t, Conditions{"id": "7", "ownerId": "u1"}, merged)
	assert.Equal(t, "u2", base["ownerId"], "base must not be modified")
	assert.Len(t, overlay, 1)
}

func TestMergeConditions_NilInputs(t *testing.T) {
	assert.Equal(t, Conditions{}, MergeConditions(nil, nil))
	assert.Equal(t, Conditions{"a": 1}, MergeConditions(nil, Conditions{"a": 1}))
	assert.Equal(t, Conditions{"a": 1}, MergeConditions(Conditions{"a": 1}, nil))
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		in   string
		want []Order
	}{
		{"", nil},
		{"title", []Order{{Field: "title"}}},
		{"title DESC", []Order{{Field: "title", Desc: true}}},
		{"-id, title asc", []Order{{Field: "id", Desc: true}, {Field: "title"}}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOrder(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOrder_Invalid(t *testing.T) {
	_, err := ParseOrder("title sideways")
	assert.Error(t, err)

	_, err = ParseOrder("a b c")
	assert.Error(t, err)
}

func TestAssociationKind(t *testing.T) {
	assert.True(t, HasMany.IsList())
	assert.True(t, BelongsToMany.IsList())
	assert.False(t, BelongsTo.IsList())
	assert.False(t, HasOne.IsList())
	assert.False(t, AssociationKind("ManyToSome").Valid())
}
