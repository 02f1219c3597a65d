package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeInputParam(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain", input: "john", want: "john"},
		{name: "quote", input: "O'Brien", want: "O''Brien"},
		{name: "percent", input: "50%", want: "50[%]"},
		{name: "underscore", input: "a_b", want: "a[_]b"},
		{name: "question mark", input: "who?", want: "who[?]"},
		{name: "mixed", input: "'%_?", want: "''[%][_][?]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeInputParam(tt.input))
		})
	}
}
