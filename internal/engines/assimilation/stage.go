package assimilation

// Stage is a step of the assimilation state machine:
//
//	Initialized -> BasisBuilt -> Optimizing -> Converged | MaxIter -> Reconstructed
//
// Failed is terminal and reachable from any stage.
type Stage int

const (
	StageInitialized Stage = iota
	StageBasisBuilt
	StageOptimizing
	StageConverged
	StageMaxIter
	StageReconstructed
	StageFailed
)

var stageNames = [...]string{
	StageInitialized:   "Initialized",
	StageBasisBuilt:    "BasisBuilt",
	StageOptimizing:    "Optimizing",
	StageConverged:     "Converged",
	StageMaxIter:       "MaxIter",
	StageReconstructed: "Reconstructed",
	StageFailed:        "Failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Unknown"
	}
	return stageNames[s]
}

// Terminal reports whether no further transition is possible
func (s Stage) Terminal() bool {
	return s == StageReconstructed || s == StageFailed
}
