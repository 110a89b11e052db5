package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"migrate", "up"}, "migrate"},
		{[]string{"seed"}, "seed"},
		{[]string{"serve"}, ""},
	}

	for _, tt := range tests {
		c := subcommand(tt.args)
		if tt.want == "" {
			assert.Nil(t, c, "%v", tt.args)
			continue
		}
		require.NotNil(t, c)
		assert.Equal(t, tt.want, c.Name())
	}
}
