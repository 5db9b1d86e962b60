// Package namemap resolves configured dealership display names to the
// underlying inventory location keys. Skipping this resolution silently
// yields zero inventory matches for multi-location dealers, so every
// inventory lookup goes through a Resolver.
package namemap

import (
	"sort"

	"github.com/antzucaro/matchr"
)

type Resolver struct {
	mapping map[string]string
}

func NewResolver(mapping map[string]string) Resolver {
	m := make(map[string]string, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	return Resolver{mapping: m}
}

// Resolve returns the inventory location key for a display name. Names
// without an explicit mapping are their own location key.
func (r Resolver) Resolve(name string) string {
	if mapped, ok := r.mapping[name]; ok && mapped != "" {
		return mapped
	}
	return name
}

type Suggestion struct {
	Name        string
	Correlation float64
}

// Suggest ranks known names by Jaro-Winkler similarity against an
// unknown one. Used to propose mappings when data shows up under a
// location name no dealership is configured for.
func Suggest(unknown string, known []string) []Suggestion {
	var result []Suggestion
	for _, name := range known {
		similarity := matchr.JaroWinkler(unknown, name, false)
		if similarity <= 0 {
			continue
		}
		result = append(result, Suggestion{
			Name:        name,
			Correlation: similarity,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Correlation > result[j].Correlation
	})
	return result
}
