package task

import (
	"math"
	"testing"
)

func TestStageOrder(t *testing.T) {
	want := []Stage{StageExtract, StageTranscribe, StageMerge, StageSummarize, StageAssemble}
	if len(Stages) != len(want) {
		t.Fatalf("pipeline has %d stages, want %d", len(Stages), len(want))
	}
	for i, s := range want {
		if Stages[i] != s {
			t.Errorf("stage %d = %s, want %s", i, Stages[i], s)
		}
		if StageIndex(s) != i {
			t.Errorf("StageIndex(%s) = %d, want %d", s, StageIndex(s), i)
		}
	}
}

func TestStageValid(t *testing.T) {
	if !StageMerge.Valid() {
		t.Error("merge should be valid")
	}
	if Stage("bogus").Valid() {
		t.Error("bogus stage should be invalid")
	}
	if StageIndex("bogus") != -1 {
		t.Error("unknown stage index should be -1")
	}
}

func TestStageWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, s := range Stages {
		sum += stageWeights[s]
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("stage weights sum to %v, want 1", sum)
	}
	if got := progressAfter(StageAssemble); math.Abs(got-1) > 1e-9 {
		t.Errorf("progress after final stage = %v, want 1", got)
	}
}

func TestProgressMonotonic(t *testing.T) {
	var prev float64
	for _, s := range Stages {
		before, after := progressBefore(s), progressAfter(s)
		if before < prev || after <= before {
			t.Errorf("progress not monotonic at %s: before=%v after=%v", s, before, after)
		}
		prev = after
	}
	if progressBefore(StageExtract) != 0 {
		t.Error("progress should start at 0")
	}
}

func TestStageArtifactsComplete(t *testing.T) {
	for _, s := range Stages {
		if len(s.Artifacts()) == 0 {
			t.Errorf("stage %s declares no artifacts", s)
		}
	}
}
