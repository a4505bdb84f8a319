package model

// Stage identifies the pipeline stage an entry was in when it reached a
// terminal state.
type Stage int

const (
	StageResolve Stage = iota
	StageFetch
	StageExtract
	StageNormalize
)

// String returns the lowercase stage name used in reports and logs.
func (s Stage) String() string {
	switch s {
	case StageResolve:
		return "resolve"
	case StageFetch:
		return "fetch"
	case StageExtract:
		return "extract"
	case StageNormalize:
		return "normalize"
	default:
		return "unknown"
	}
}

// Status is the terminal status of one entry group.
type Status int

const (
	StatusSucceeded Status = iota
	StatusSkipped
	StatusFailed
)

// Outcome is the terminal state of processing one entry group. Every
// group in a run produces exactly one Outcome, in any order.
type Outcome struct {
	// DirName is the group's output directory name.
	DirName string

	// URL is the source URL the outcome refers to (base URL when known).
	URL string

	Status Status

	// Stage is the stage that produced a failure. Meaningful only when
	// Status is StatusFailed.
	Stage Stage

	// Reason is a human-readable explanation for skips and failures.
	Reason string

	// OutputPath is the entry's directory on success.
	OutputPath string
}
