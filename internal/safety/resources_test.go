package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrisisResources_KnownRegion(t *testing.T) {
	resources := CrisisResources("US")

	require.NotEmpty(t, resources)
	assert.True(t, resources[0].Primary, "primary resource must be first")
	assert.Equal(t, "988 Suicide & Crisis Lifeline", resources[0].Name)
}

func TestCrisisResources_CaseAndWhitespace(t *testing.T) {
	assert.Equal(t, CrisisResources("US"), CrisisResources(" us "))
	assert.Equal(t, CrisisResources("UK"), CrisisResources("uk"))
}

func TestCrisisResources_FallbackToDefault(t *testing.T) {
	unknown := CrisisResources("ZZ")
	empty := CrisisResources("")
	def := CrisisResources(DefaultRegion)

	assert.Equal(t, def, unknown)
	assert.Equal(t, def, empty)
	require.NotEmpty(t, def)
	assert.True(t, def[0].Primary)
}

func TestCrisisResources_EveryRegionHasPrimary(t *testing.T) {
	for _, region := range Regions() {
		resources := CrisisResources(region)
		require.NotEmpty(t, resources, "region %s", region)
		assert.True(t, resources[0].Primary, "region %s must lead with its primary resource", region)
	}
}

func TestCrisisResources_ReturnsCopy(t *testing.T) {
	first := CrisisResources("US")
	first[0].Name = "mutated"

	second := CrisisResources("US")
	assert.Equal(t, "988 Suicide & Crisis Lifeline", second[0].Name)
}

func TestRegions(t *testing.T) {
	regions := Regions()
	assert.Contains(t, regions, "US")
	assert.Contains(t, regions, DefaultRegion)
	assert.IsType(t, []string{}, regions)
}
