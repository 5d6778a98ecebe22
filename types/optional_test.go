package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionalDecoding(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Optional[string]
	}{
		{name: "absent", body: `{}`, want: Optional[string]{}},
		{name: "null", body: `{"phone":null}`, want: Optional[string]{Present: true, Null: true}},
		{name: "empty", body: `{"phone":""}`, want: Optional[string]{Present: true}},
		{name: "value", body: `{"phone":"555-0100"}`, want: Optional[string]{Present: true, Value: "555-0100"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var update ProfileUpdate
			require.NoError(t, json.Unmarshal([]byte(tt.body), &update))
			assert.Equal(t, tt.want, update.Phone)
			assert.False(t, update.Name.Present)
		})
	}
}

func TestOptionalRejectsWrongType(t *testing.T) {
	var update ProfileUpdate
	assert.Error(t, json.Unmarshal([]byte(`{"name":42}`), &update))
}

func TestOptionalIsSet(t *testing.T) {
	assert.False(t, Optional[int]{}.IsSet())
	assert.False(t, Optional[int]{Present: true, Null: true}.IsSet())
	assert.True(t, Optional[int]{Present: true}.IsSet())
}
