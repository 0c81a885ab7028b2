package vecindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEq(t *testing.T) {
	f := Eq("source_type", "federal")
	assert.Equal(t, Filter{"source_type": "federal"}, f)
}

func TestIn(t *testing.T) {
	f := In("jurisdiction", "US", "TX")
	assert.Equal(t, Filter{"jurisdiction": map[string]any{"$in": []any{"US", "TX"}}}, f)
}

func TestOr_DropsEmptyAndUnwrapsSingle(t *testing.T) {
	assert.Nil(t, Or())
	assert.Nil(t, Or(nil, Filter{}))

	single := Or(nil, Eq("jurisdiction", "TX"))
	assert.Equal(t, Filter{"jurisdiction": "TX"}, single)

	multi := Or(Eq("jurisdiction", "US"), Eq("jurisdiction", "TX"))
	assert.Equal(t, Filter{"$or": []any{
		map[string]any{"jurisdiction": "US"},
		map[string]any{"jurisdiction": "TX"},
	}}, multi)
}

func TestAnd_MergesFields(t *testing.T) {
	f := And(Eq("source_type", "state"), Eq("jurisdiction", "TX"))
	assert.Equal(t, Filter{"source_type": "state", "jurisdiction": "TX"}, f)
	assert.Nil(t, And())
}

func TestJurisdictionFilter(t *testing.T) {
	assert.Nil(t, JurisdictionFilter(nil))

	single := JurisdictionFilter([]string{"US"})
	assert.Equal(t, Filter{"jurisdiction": "US"}, single)

	f := JurisdictionFilter([]string{"US", "TX", "TX-48201", "TX-houston"})
	assert.Equal(t, Filter{"$or": []any{
		map[string]any{"jurisdiction": "US"},
		map[string]any{"jurisdiction": "TX"},
		map[string]any{"jurisdiction": "TX-48201"},
		map[string]any{"jurisdiction": "TX-houston"},
	}}, f)
}

func TestMatchesFilter(t *testing.T) {
	md := map[string]any{
		"source_type":  "county",
		"jurisdiction": "TX-48201",
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches everything", nil, true},
		{"eq match", Eq("source_type", "county"), true},
		{"eq mismatch", Eq("source_type", "federal"), false},
		{"in match", In("jurisdiction", "US", "TX-48201"), true},
		{"in mismatch", In("jurisdiction", "US", "TX"), false},
		{"or match", Or(Eq("jurisdiction", "US"), Eq("jurisdiction", "TX-48201")), true},
		{"or mismatch", Or(Eq("jurisdiction", "US"), Eq("jurisdiction", "TX")), false},
		{"and match", And(Eq("source_type", "county"), Eq("jurisdiction", "TX-48201")), true},
		{"and partial mismatch", And(Eq("source_type", "county"), Eq("jurisdiction", "TX")), false},
		{"missing field", Eq("city", "houston"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesFilter(md, tt.filter))
		})
	}
}
