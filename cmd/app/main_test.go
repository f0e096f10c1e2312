//go:build !integration

package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepolish/internal/config"
	"codepolish/internal/domain/model"
	"codepolish/internal/infra/polisher"
)

func TestBuildAI_WithoutKeys(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	t.Run("dev llm gets the noop adapter", func(t *testing.T) {
		cfg := config.AIConfig{Polisher: "llm"}
		ai, err := buildAI(ctx, cfg, true, &log)
		require.NoError(t, err)
		require.NotNil(t, ai)
		assert.Equal(t, "noop", ai.Name())

		pol, err := polisher.New(cfg, ai, &log)
		require.NoError(t, err)
		score, _, err := pol.Analyze(ctx, "<div/>", model.FrameworkReact, model.DefaultRules())
		require.NoError(t, err)
		assert.Equal(t, 55, score)
		tr, err := pol.Transform(ctx, "<div/>", model.FrameworkReact, model.PresetStandard, model.DefaultRules(), nil)
		require.NoError(t, err)
		assert.Contains(t, tr.Code, "Placeholder")
	})

	t.Run("heuristic or production gets nothing", func(t *testing.T) {
		ai, err := buildAI(ctx, config.AIConfig{Polisher: "heuristic"}, true, &log)
		require.NoError(t, err)
		assert.Nil(t, ai)

		ai, err = buildAI(ctx, config.AIConfig{Polisher: "llm"}, false, &log)
		require.NoError(t, err)
		assert.Nil(t, ai)
	})
}
