package namemap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r := NewResolver(map[string]string{
		"Dave Sinclair Lincoln South": "Dave Sinclair Lincoln",
	})

	require.Equal(t, "Dave Sinclair Lincoln", r.Resolve("Dave Sinclair Lincoln South"))
	require.Equal(t, "Suntrup Ford West", r.Resolve("Suntrup Ford West"))
}

func TestSuggest(t *testing.T) {
	known := []string{
		"Dave Sinclair Lincoln",
		"Suntrup Ford West",
		"Bommarito Honda",
	}

	suggestions := Suggest("Dave Sinclair Lincoln South", known)
	require.NotEmpty(t, suggestions)
	require.Equal(t, "Dave Sinclair Lincoln", suggestions[0].Name)
	require.Greater(t, suggestions[0].Correlation, 0.8)
}
