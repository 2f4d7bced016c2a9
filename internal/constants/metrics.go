// Package constants provides centralized constant definitions for the assimilation runner.
package constants

// VarDA Output Metrics
// These metric names are used to expose assimilation results to Prometheus.
// One sample is recorded per completed run, labelled by reduction method.
const (
	// VarDARunsTotal is a counter of assimilation runs.
	// Labels: method, status (converged/max_iter/failed)
	VarDARunsTotal = "varda_runs_total"

	// VarDARefMAEMean is a gauge holding the mean absolute error of the background of the last run.
	// Labels: method
	VarDARefMAEMean = "varda_ref_mae_mean"

	// VarDADAMAEMean is a gauge holding the mean absolute error of the corrected state of the last run.
	// Labels: method
	VarDADAMAEMean = "varda_da_mae_mean"

	// VarDAOptimizerIterations is a gauge with the major iterations of the last minimization.
	// Labels: method
	VarDAOptimizerIterations = "varda_optimizer_iterations"

	// VarDACost is a gauge with the cost at the initial guess and at the optimum.
	// Labels: method, point (initial/optimal)
	VarDACost = "varda_cost"

	// VarDARunDurationSeconds is a histogram of wall-clock run time.
	// Labels: method
	VarDARunDurationSeconds = "varda_run_duration_seconds"
)

// Metric Label Names
// Common label names used across metrics for consistency.
const (
	LabelMethod = "method"
	LabelStatus = "status"
	LabelPoint  = "point"
)

// Metric Label Values
const (
	StatusConverged = "converged"
	StatusMaxIter   = "max_iter"
	StatusFailed    = "failed"

	PointInitial = "initial"
	PointOptimal = "optimal"
)
