package dealers

import (
	"testing"

	"vinflow-backend/lib/pipeline"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Dealerships: []Dealership{
			{
				Name:              "Dave Sinclair Lincoln South",
				IsActive:          true,
				InventoryLocation: "Dave Sinclair Lincoln",
			},
			{
				Name:     "Suntrup Ford West",
				IsActive: true,
				Filtering: FilteringRules{
					VehicleTypes: []string{"Used"},
					MinPrice:     5000,
				},
			},
			{
				Name:     "Closed Lot Motors",
				IsActive: false,
			},
		},
	}
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)

	d, location, err := r.Get("Dave Sinclair Lincoln South")
	require.NoError(t, err)
	require.Equal(t, "Dave Sinclair Lincoln", location)
	require.True(t, d.IsActive)

	_, location, err = r.Get("Suntrup Ford West")
	require.NoError(t, err)
	require.Equal(t, "Suntrup Ford West", location)

	_, _, err = r.Get("Nonexistent Motors")
	require.Error(t, err)
	require.True(t, pipeline.IsConfiguration(err))
}

func TestRegistryValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Dealerships = append(cfg.Dealerships, Dealership{Name: "  "})
	_, err := NewRegistry(cfg)
	require.True(t, pipeline.IsConfiguration(err))

	cfg = testConfig()
	cfg.Dealerships[1].Filtering.MaxPrice = 100
	_, err = NewRegistry(cfg)
	require.True(t, pipeline.IsConfiguration(err))

	cfg = testConfig()
	cfg.Dealerships = append(cfg.Dealerships, cfg.Dealerships[0])
	_, err = NewRegistry(cfg)
	require.True(t, pipeline.IsConfiguration(err))
}

func TestFilteringRulesDefaults(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)

	d, _, err := r.Get("Suntrup Ford West")
	require.NoError(t, err)
	require.True(t, d.Filtering.AllowsType("used"))
	require.False(t, d.Filtering.AllowsType("new"))
	require.False(t, d.Filtering.AllowsPrice(4000))
	require.True(t, d.Filtering.AllowsPrice(10000))

	require.Equal(t, DefaultExportFields, d.Output.Fields)
	require.NotEmpty(t, d.Output.SortBy)
}
