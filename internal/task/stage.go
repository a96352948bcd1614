package task

// Stage is one step of the processing pipeline.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageTranscribe Stage = "transcribe"
	StageMerge      Stage = "merge"
	StageSummarize  Stage = "summarize"
	StageAssemble   Stage = "dedup_and_assemble"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{StageExtract, StageTranscribe, StageMerge, StageSummarize, StageAssemble}

// Artifact filenames, relative to the task directory.
const (
	ArtifactAudio      = "audio.wav"
	ArtifactFrames     = "frames.json"
	ArtifactTranscript = "transcript.json"
	ArtifactParagraphs = "paragraphs.json"
	ArtifactSummaries  = "summaries.json"
	ArtifactNote       = "note.json"
)

// stageArtifacts maps each stage to the files it must leave behind.
var stageArtifacts = map[Stage][]string{
	StageExtract:    {ArtifactAudio, ArtifactFrames},
	StageTranscribe: {ArtifactTranscript},
	StageMerge:      {ArtifactParagraphs},
	StageSummarize:  {ArtifactSummaries},
	StageAssemble:   {ArtifactNote},
}

// stageWeights apportion overall progress across stages. They sum to 1.
var stageWeights = map[Stage]float64{
	StageExtract:    0.10,
	StageTranscribe: 0.20,
	StageMerge:      0.20,
	StageSummarize:  0.20,
	StageAssemble:   0.30,
}

// StageIndex returns the position of s in the pipeline, or -1 if unknown.
func StageIndex(s Stage) int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a pipeline stage.
func (s Stage) Valid() bool { return StageIndex(s) >= 0 }

// Artifacts returns the filenames the stage produces.
func (s Stage) Artifacts() []string { return stageArtifacts[s] }

// progressBefore returns cumulative progress at the start of stage s.
func progressBefore(s Stage) float64 {
	var p float64
	for _, stage := range Stages {
		if stage == s {
			break
		}
		p += stageWeights[stage]
	}
	return p
}

// progressAfter returns cumulative progress once stage s completes.
func progressAfter(s Stage) float64 {
	return progressBefore(s) + stageWeights[s]
}
