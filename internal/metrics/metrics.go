/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/vardalab/varda/internal/constants"
)

// Recorder exposes assimilation results as Prometheus metrics
type Recorder struct {
	runsTotal      *prometheus.CounterVec
	refMAEGauge    *prometheus.GaugeVec
	daMAEGauge     *prometheus.GaugeVec
	iterationGauge *prometheus.GaugeVec
	costGauge      *prometheus.GaugeVec
	runDuration    *prometheus.HistogramVec
}

// RunSample is what one finished run reports
type RunSample struct {
	Method      string        // reduction method label
	Status      string        // constants.StatusConverged, StatusMaxIter or StatusFailed
	RefMAEMean  float64       // background mean absolute error
	DAMAEMean   float64       // corrected state mean absolute error
	Iterations  int           // optimizer major iterations
	InitialCost float64       // J(w0)
	OptimalCost float64       // J(wOpt)
	Duration    time.Duration // wall-clock run time
}

// NewRecorder creates the run metrics and registers them on reg
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: constants.VarDARunsTotal,
				Help: "Total number of assimilation runs by method and outcome",
			},
			[]string{constants.LabelMethod, constants.LabelStatus},
		),
		refMAEGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: constants.VarDARefMAEMean,
				Help: "Mean absolute error of the background state in the last run",
			},
			[]string{constants.LabelMethod},
		),
		daMAEGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: constants.VarDADAMAEMean,
				Help: "Mean absolute error of the assimilated state in the last run",
			},
			[]string{constants.LabelMethod},
		),
		iterationGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: constants.VarDAOptimizerIterations,
				Help: "Major iterations of the last minimization",
			},
			[]string{constants.LabelMethod},
		),
		costGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: constants.VarDACost,
				Help: "Cost functional at the initial guess and at the optimum of the last run",
			},
			[]string{constants.LabelMethod, constants.LabelPoint},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    constants.VarDARunDurationSeconds,
				Help:    "Wall-clock duration of assimilation runs",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{constants.LabelMethod},
		),
	}
	if reg == nil {
		return r, nil
	}
	for _, c := range []prometheus.Collector{r.runsTotal, r.refMAEGauge, r.daMAEGauge, r.iterationGauge, r.costGauge, r.runDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return r, nil
}

// Observe records one finished run. Failed runs only count.
func (r *Recorder) Observe(s RunSample) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(s.Method, s.Status).Inc()
	r.runDuration.WithLabelValues(s.Method).Observe(s.Duration.Seconds())
	if s.Status == constants.StatusFailed {
		return
	}
	r.refMAEGauge.WithLabelValues(s.Method).Set(s.RefMAEMean)
	r.daMAEGauge.WithLabelValues(s.Method).Set(s.DAMAEMean)
	r.iterationGauge.WithLabelValues(s.Method).Set(float64(s.Iterations))
	r.costGauge.WithLabelValues(s.Method, constants.PointInitial).Set(s.InitialCost)
	r.costGauge.WithLabelValues(s.Method, constants.PointOptimal).Set(s.OptimalCost)
}

// WriteText renders every metric family of g in the Prometheus text format
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
