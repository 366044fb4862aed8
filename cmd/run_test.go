package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradehub/tradehub-cli/internal/model"
)

func TestFormatRunResults(t *testing.T) {
	results := []*model.RunResult{
		{
			Strategy: model.StrategyCSP,
			Stages: []model.StageResult{
				{Stage: model.StageUnify, Status: model.StageStatusOK},
				{Stage: model.StageNormalize, Status: model.StageStatusWarning},
				{Stage: model.StageRank, Status: model.StageStatusOK},
			},
			Suggestions: 10,
			Freshness:   model.FreshnessFresh,
		},
		{
			Strategy: model.StrategyPMCC,
			Stages: []model.StageResult{
				{Stage: model.StageUnify, Status: model.StageStatusFatal, Error: "io failure"},
			},
			Error: "unify: io failure",
		},
	}

	var buf bytes.Buffer
	formatRunResults(&buf, results)
	out := buf.String()

	assert.Contains(t, out, "SUGGESTIONS")
	assert.Contains(t, out, "unify:ok normalize:warning rank:ok")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "unify: io failure")
}

func TestStageLine_Empty(t *testing.T) {
	assert.Empty(t, stageLine(nil))
}
