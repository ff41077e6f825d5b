package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignParamsValidate(t *testing.T) {
	base := CampaignParams{MinLoad: 50, MaxLoad: 100, LoadDelta: 10, CapMin: 500, CapMax: 1000, CapDelta: 100}
	require.NoError(t, base.validate())

	t.Run("min load greater than max", func(t *testing.T) {
		p := base
		p.MinLoad, p.MaxLoad = 100, 50
		assert.Error(t, p.validate())
	})

	t.Run("cap min not less than cap max", func(t *testing.T) {
		p := base
		p.CapMin, p.CapMax = 1000, 1000
		assert.Error(t, p.validate())
	})

	t.Run("cap delta not positive", func(t *testing.T) {
		p := base
		p.CapDelta = 0
		assert.Error(t, p.validate())
	})

	t.Run("load delta not positive and loads differ", func(t *testing.T) {
		p := base
		p.LoadDelta = 0
		assert.Error(t, p.validate())
	})

	t.Run("load delta zero allowed when loads equal", func(t *testing.T) {
		p := base
		p.MinLoad, p.MaxLoad, p.LoadDelta = 80, 80, 0
		assert.NoError(t, p.validate())
	})
}

func TestCampaignParamsLoads(t *testing.T) {
	p := CampaignParams{MinLoad: 50, MaxLoad: 80, LoadDelta: 10}
	assert.Equal(t, []int{50, 60, 70, 80}, p.loads())

	single := CampaignParams{MinLoad: 80, MaxLoad: 80}
	assert.Equal(t, []int{80}, single.loads())
}

func TestCampaignParamsDirections(t *testing.T) {
	both := CampaignParams{Direction: DirectionBoth}
	assert.Equal(t, []Direction{DirectionUp, DirectionDown}, both.directions())

	up := CampaignParams{Direction: DirectionUp}
	assert.Equal(t, []Direction{DirectionUp}, up.directions())
}

func TestCampaignParamsPauseModesDefaultsToBoth(t *testing.T) {
	p := CampaignParams{}
	assert.Equal(t, []bool{true, false}, p.pauseModes())

	explicit := CampaignParams{PauseModes: []bool{false}}
	assert.Equal(t, []bool{false}, explicit.pauseModes())
}
