package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentRegistryLookup(t *testing.T) {
	reg := NewAgentRegistry([]*AgentConfig{
		{Name: "Researcher", ID: "res-1"},
		{Name: "Writer"},
	})

	a, ok := reg.Lookup("researcher")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "Researcher", a.Name)

	a, ok = reg.Lookup("RES-1")
	require.True(t, ok, "lookup matches ids too")
	assert.Equal(t, "Researcher", a.Name)

	_, ok = reg.Lookup("editor")
	assert.False(t, ok)
}

func TestAgentRegistryFirst(t *testing.T) {
	assert.Nil(t, NewAgentRegistry(nil).First())

	reg := NewAgentRegistry([]*AgentConfig{{Name: "A"}, {Name: "B"}})
	assert.Equal(t, "A", reg.First().Name, "declaration order decides the default target")
}

func TestAgentRegistryMerged(t *testing.T) {
	base := NewAgentRegistry([]*AgentConfig{
		{Name: "Researcher", Model: "base-model"},
		{Name: "Writer", Model: "base-model"},
	})

	merged := base.Merged([]*AgentConfig{
		{Name: "writer", Model: "run-model"},
		{Name: "Critic", Model: "run-model"},
	})

	// Overrides replace in place, new names append; base keeps its order.
	all := merged.All()
	require.Len(t, all, 3)
	assert.Equal(t, "Researcher", all[0].Name)
	assert.Equal(t, "writer", all[1].Name)
	assert.Equal(t, "run-model", all[1].Model)
	assert.Equal(t, "Critic", all[2].Name)

	// The base registry is untouched.
	assert.Equal(t, "base-model", base.All()[1].Model)
	assert.Equal(t, 2, base.Len())

	assert.Same(t, base, base.Merged(nil), "no overrides returns the receiver")
}

func TestAgentEffectiveID(t *testing.T) {
	assert.Equal(t, "res-1", (&AgentConfig{Name: "Researcher", ID: "res-1"}).EffectiveID())
	assert.Equal(t, "Researcher", (&AgentConfig{Name: "Researcher"}).EffectiveID())
}

func TestAgentRAGAuto(t *testing.T) {
	var nilCfg *AgentRAGConfig
	assert.False(t, nilCfg.Auto())
	assert.False(t, (&AgentRAGConfig{Mode: RAGModeOff}).Auto())
	assert.False(t, (&AgentRAGConfig{}).Auto())
	assert.True(t, (&AgentRAGConfig{Mode: RAGModeAuto}).Auto())
}

func TestAssetResolveInLLMDefault(t *testing.T) {
	var nilCfg *AssetConfig
	assert.True(t, nilCfg.ResolveAssetsInLLM(), "resolution defaults on")
	assert.True(t, (&AssetConfig{}).ResolveAssetsInLLM())

	off := false
	assert.False(t, (&AssetConfig{ResolveInLLM: &off}).ResolveAssetsInLLM())
}
