package main

import (
	"testing"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildVoxelConfig(t *testing.T) {
	cfg, err := buildVoxelConfig(config.TerrainConfig{
		BlockSizePo2:  5,
		LODCount:      3,
		Streaming:     true,
		BoundsMin:     [3]int{-64, -16, -64},
		BoundsMax:     [3]int{64, 16, 64},
		ChannelDepths: map[string]int{"sdf": 8, "color": 16},
	})
	require.NoError(t, err)
	assert.Equal(t, uint(5), cfg.BlockSizePo2)
	assert.Equal(t, 3, cfg.LODCount)
	assert.True(t, cfg.Streaming)
	assert.Equal(t, vec.NewBox3(vec.New3(-64, -16, -64), vec.New3(128, 32, 128)), cfg.Bounds)
	assert.Equal(t, voxel.Depth8Bit, cfg.Depths[voxel.ChannelSDF])
	assert.Equal(t, voxel.Depth16Bit, cfg.Depths[voxel.ChannelColor])
	assert.Equal(t, voxel.DefaultDepths[voxel.ChannelType], cfg.Depths[voxel.ChannelType])
}

func TestBuildVoxelConfig_EmptyBoundsMeansWholeWorld(t *testing.T) {
	cfg, err := buildVoxelConfig(config.Default().Terrain)
	require.NoError(t, err)
	d := voxel.NewVoxelData(nil, cfg)
	assert.Equal(t, voxel.MaxBounds, d.Bounds())
}

func TestBuildVoxelConfig_Errors(t *testing.T) {
	_, err := buildVoxelConfig(config.TerrainConfig{ChannelDepths: map[string]int{"smell": 8}})
	assert.Error(t, err)
	_, err = buildVoxelConfig(config.TerrainConfig{ChannelDepths: map[string]int{"type": 12}})
	assert.Error(t, err)
}
