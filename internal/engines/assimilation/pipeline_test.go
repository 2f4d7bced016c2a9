package assimilation

import (
	"context"
	"math"
	"path/filepath"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gonum.org/v1/gonum/mat"

	"github.com/vardalab/varda/internal/config"
	"github.com/vardalab/varda/internal/export"
	"github.com/vardalab/varda/internal/logging"
	"github.com/vardalab/varda/internal/metrics"
	"github.com/vardalab/varda/internal/synthetic"
	"github.com/vardalab/varda/pkg/autoencoder"
	"github.com/vardalab/varda/pkg/varda"
)

func newConfig(overrides map[string]any) *config.Config {
	base, err := config.New(config.Defaults())
	Expect(err).NotTo(HaveOccurred())
	values := map[string]any{"NUMBER_MODES": 5}
	for k, v := range overrides {
		values[k] = v
	}
	cfg, err := base.WithOverrides(values)
	Expect(err).NotTo(HaveOccurred())
	return cfg
}

func scenarioInputs(seed uint64) Inputs {
	opts := synthetic.DefaultOptions()
	opts.Seed = seed
	sc, err := synthetic.Generate(opts)
	Expect(err).NotTo(HaveOccurred())
	return Inputs{
		History:    sc.Ensemble,
		Background: sc.Background,
		Truth:      sc.Truth,
		ObsIndices: sc.ObsIndices,
		ObsValues:  sc.ObsValues,
		Reference:  "synthetic/sample.csv",
	}
}

// linear autoencoder spanning the five leading modes of the scenario history
func basisModel(in Inputs) *autoencoder.Dense {
	opts := varda.DefaultBasisOptions()
	opts.Modes = 5
	basis, err := varda.BuildBasis(in.History, opts)
	Expect(err).NotTo(HaveOccurred())
	model, err := autoencoder.FromBasis(basis.VTrunc)
	Expect(err).NotTo(HaveOccurred())
	return model
}

func meanAbsDiff(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(len(a))
}

var _ = Describe("Pipeline", func() {
	var (
		ctx context.Context
		in  Inputs
	)

	BeforeEach(func() {
		ctx = logging.NewTestLoggerIntoContext(context.Background())
		in = scenarioInputs(42)
	})

	Context("with the SVD reduction", func() {
		It("should improve on the background and reach the reconstructed stage", func() {
			reg := prometheus.NewRegistry()
			rec, err := metrics.NewRecorder(reg)
			Expect(err).NotTo(HaveOccurred())

			p, err := NewPipeline(newConfig(nil), in, WithRecorder(rec))
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Stage()).To(Equal(StageInitialized))

			res, err := p.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Stage()).To(Equal(StageReconstructed))
			Expect(res.Stage).To(Equal(StageReconstructed))
			Expect(res.Stage.Terminal()).To(BeTrue())
			Expect(res.Outcome).To(Equal(StageConverged))
			Expect(res.Status()).To(Equal("converged"))
			Expect(res.RunID).NotTo(Equal(uuid.Nil))
			Expect(res.Method).To(Equal("linear-basis"))
			Expect(res.WOpt).To(HaveLen(5))
			Expect(res.UDA).To(HaveLen(100))

			Expect(res.Diagnostics.OptimalCost).To(BeNumerically("<=", res.Diagnostics.InitialCost))
			Expect(res.Metrics.DAMAEMean).To(BeNumerically("<", res.Metrics.RefMAEMean))
			Expect(res.Metrics.RefMAEMean).To(BeNumerically("~", meanAbsDiff(in.Background, in.Truth), 1e-12))

			Expect(testutil.GatherAndCount(reg, "varda_runs_total")).To(Equal(1))
			Expect(testutil.GatherAndCount(reg, "varda_cost")).To(Equal(2))
		})

		It("should not be affected by later changes to the caller's inputs", func() {
			p, err := NewPipeline(newConfig(nil), in)
			Expect(err).NotTo(HaveOccurred())
			in.Background[0] = math.NaN()
			in.History.Set(0, 0, math.NaN())

			res, err := p.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(math.IsNaN(res.UDA[0])).To(BeFalse())
		})

		It("should report an iteration limit as a warning, not an error", func() {
			cfg := newConfig(map[string]any{"MAX_ITERATIONS": 1, "TOL": 1e-12})
			p, err := NewPipeline(cfg, in)
			Expect(err).NotTo(HaveOccurred())

			res, err := p.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(StageMaxIter))
			Expect(res.Status()).To(Equal("max_iter"))
			Expect(res.Stage).To(Equal(StageReconstructed))
			Expect(res.Warnings).NotTo(BeEmpty())
			Expect(res.Warnings[0].Kind).To(Equal(varda.ConvergenceWarning))
		})

		It("should run only once", func() {
			p, err := NewPipeline(newConfig(nil), in)
			Expect(err).NotTo(HaveOccurred())
			_, err = p.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = p.Run(ctx)
			Expect(err).To(MatchError(ErrAlreadyRun))
		})

		It("should compute metrics in physical units after undoing normalization", func() {
			cfg := newConfig(map[string]any{"NORMALIZE": true, "UNDO_NORMALIZE": true, "DEBUG": true})
			p, err := NewPipeline(cfg, in)
			Expect(err).NotTo(HaveOccurred())

			res, err := p.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Diagnostics.OptimalCost).To(BeNumerically("<=", res.Diagnostics.InitialCost))
			Expect(res.States.Background).To(HaveLen(100))
			Expect(res.Metrics.RefMAEMean).To(BeNumerically("~", meanAbsDiff(in.Background, in.Truth), 1e-9))
			for i := range in.Truth {
				Expect(res.States.Truth[i]).To(BeNumerically("~", in.Truth[i], 1e-9))
			}
		})

		It("should export the error fields when saving", func() {
			dir := GinkgoT().TempDir()
			cfg := newConfig(map[string]any{"SAVE": true, "INTERMEDIATE_FP": dir})
			p, err := NewPipeline(cfg, in)
			Expect(err).NotTo(HaveOccurred())
			res, err := p.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			ref, err := export.ReadField(filepath.Join(dir, "ref_MAE.yaml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ref.Name).To(Equal(RefMAEField))
			Expect(ref.Reference).To(Equal("synthetic/sample.csv"))
			Expect(ref.Values).To(Equal(res.Metrics.RefMAE))

			da, err := export.ReadField(filepath.Join(dir, "DA_MAE.yaml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(da.Size).To(Equal(100))
		})
	})

	Context("with the AE reduction", func() {
		aeConfig := func(overrides map[string]any) *config.Config {
			values := map[string]any{"COMPRESSION_METHOD": "AE"}
			for k, v := range overrides {
				values[k] = v
			}
			return newConfig(values)
		}

		It("should use the explicit decoder Jacobian", func() {
			p, err := NewPipeline(aeConfig(nil), in, WithModel(basisModel(in)))
			Expect(err).NotTo(HaveOccurred())

			res, err := p.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Method).To(Equal("learned-decoder"))
			Expect(res.Warnings).To(BeEmpty())
			Expect(res.Metrics.DAMAEMean).To(BeNumerically("<", res.Metrics.RefMAEMean))
		})

		It("should refuse a model without a Jacobian unless the numerical fallback is enabled", func() {
			hidden := autoencoder.WithoutJacobian(basisModel(in))
			_, err := NewPipeline(aeConfig(nil), in, WithModel(hidden))
			Expect(err).To(MatchError(varda.ErrCapabilityGap))

			p, err := NewPipeline(aeConfig(map[string]any{"JAC_NOT_IMPLEM": true}), in, WithModel(hidden))
			Expect(err).NotTo(HaveOccurred())
			res, err := p.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Method).To(Equal("learned-decoder-fd"))
			Expect(res.Warnings).NotTo(BeEmpty())
			Expect(res.Warnings[0].Kind).To(Equal(varda.PerformanceWarning))
		})

		It("should refuse reduced-space minimization before running", func() {
			reg := prometheus.NewRegistry()
			rec, err := metrics.NewRecorder(reg)
			Expect(err).NotTo(HaveOccurred())

			p, err := NewPipeline(aeConfig(map[string]any{"REDUCED_SPACE": true}), in,
				WithModel(basisModel(in)), WithRecorder(rec))
			Expect(err).To(MatchError(varda.ErrCapabilityGap))
			Expect(p).To(BeNil())

			count, err := testutil.GatherAndCount(reg, "varda_runs_total")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})

		It("should refuse reduced-space minimization without a model", func() {
			_, err := NewPipeline(aeConfig(map[string]any{"REDUCED_SPACE": true}), in)
			Expect(err).To(MatchError(varda.ErrCapabilityGap))
		})

		It("should require a model path when no model is given", func() {
			_, err := NewPipeline(aeConfig(nil), in)
			Expect(err).To(MatchError(varda.ErrConfiguration))
			Expect(err.Error()).To(ContainSubstring("AE_MODEL_FP"))
		})

		It("should reject a mode count different from the model latent size", func() {
			_, err := NewPipeline(aeConfig(map[string]any{"NUMBER_MODES": 3}), in, WithModel(basisModel(in)))
			Expect(err).To(MatchError(varda.ErrConfiguration))
		})

		It("should fail when the model file cannot be loaded", func() {
			cfg := aeConfig(map[string]any{"AE_MODEL_FP": filepath.Join(GinkgoT().TempDir(), "missing.yaml")})
			_, err := NewPipeline(cfg, in)
			Expect(err).To(MatchError(varda.ErrConfiguration))
		})
	})

	Context("with invalid inputs", func() {
		It("should reject mismatched shapes before optimizing", func() {
			cfg := newConfig(nil)

			bad := in
			bad.Background = bad.Background[:50]
			_, err := NewPipeline(cfg, bad)
			Expect(err).To(MatchError(varda.ErrShape))

			bad = in
			bad.ObsIndices = append([]int{}, in.ObsIndices...)
			bad.ObsIndices[0] = 100
			_, err = NewPipeline(cfg, bad)
			Expect(err).To(MatchError(varda.ErrShape))

			bad = in
			bad.History = nil
			_, err = NewPipeline(cfg, bad)
			Expect(err).To(MatchError(varda.ErrShape))

			_, err = NewPipeline(newConfig(map[string]any{"STATE_SHAPE": "10x5"}), in)
			Expect(err).To(MatchError(varda.ErrShape))

			_, err = NewPipeline(nil, in)
			Expect(err).To(MatchError(varda.ErrConfiguration))
		})

		It("should reject more modes than the ensemble provides", func() {
			p, err := NewPipeline(newConfig(map[string]any{"NUMBER_MODES": 21}), in)
			Expect(err).NotTo(HaveOccurred())
			_, err = p.Run(ctx)
			Expect(err).To(MatchError(varda.ErrShape))
			Expect(p.Stage()).To(Equal(StageFailed))
		})
	})
})

var _ = Describe("Runner", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = logging.NewTestLoggerIntoContext(context.Background())
	})

	It("should run independent windows concurrently", func() {
		dir := GinkgoT().TempDir()
		cfg := newConfig(map[string]any{"SAVE": true, "INTERMEDIATE_FP": dir})
		runner := NewRunner(cfg)

		windows := []Window{
			{Name: "w1", Inputs: scenarioInputs(1)},
			{Name: "w2", Inputs: scenarioInputs(2)},
			{Name: "w3", Inputs: scenarioInputs(3)},
		}
		results, err := runner.RunWindows(ctx, windows, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(3))
		Expect(runner.Windows()).To(Equal([]string{"w1", "w2", "w3"}))

		ids := map[uuid.UUID]struct{}{}
		for i, res := range results {
			Expect(res.Stage).To(Equal(StageReconstructed))
			Expect(res.Metrics.RefMAEMean).To(BeNumerically("~",
				meanAbsDiff(windows[i].Inputs.Background, windows[i].Inputs.Truth), 1e-12))
			ids[res.RunID] = struct{}{}

			latest, ok := runner.Latest(windows[i].Name)
			Expect(ok).To(BeTrue())
			Expect(latest).To(BeIdenticalTo(res))

			_, err := export.ReadField(filepath.Join(dir, windows[i].Name, "DA_MAE.yaml"))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(ids).To(HaveLen(3))
	})

	It("should match a sequential run", func() {
		cfg := newConfig(nil)
		in := scenarioInputs(7)

		p, err := NewPipeline(cfg, in)
		Expect(err).NotTo(HaveOccurred())
		single, err := p.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		results, err := NewRunner(cfg).RunWindows(ctx, []Window{{Name: "only", Inputs: in}}, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(mat.EqualApprox(mat.NewVecDense(len(single.UDA), single.UDA),
			mat.NewVecDense(len(results[0].UDA), results[0].UDA), 1e-12)).To(BeTrue())
	})

	It("should validate the windows", func() {
		runner := NewRunner(newConfig(nil))
		in := scenarioInputs(1)

		_, err := runner.RunWindows(ctx, []Window{{Name: "a", Inputs: in}}, 0)
		Expect(err).To(MatchError(varda.ErrConfiguration))

		_, err = runner.RunWindows(ctx, []Window{{Name: "a", Inputs: in}, {Name: "a", Inputs: in}}, 1)
		Expect(err).To(MatchError(varda.ErrConfiguration))

		_, err = runner.RunWindows(ctx, []Window{{Inputs: in}}, 1)
		Expect(err).To(MatchError(varda.ErrConfiguration))
	})

	It("should return the first failure", func() {
		runner := NewRunner(newConfig(map[string]any{"NUMBER_MODES": 21}))
		_, err := runner.RunWindows(ctx, []Window{{Name: "a", Inputs: scenarioInputs(1)}}, 1)
		Expect(err).To(MatchError(varda.ErrShape))
		Expect(runner.Windows()).To(BeEmpty())
	})

	It("should not cache windows of a failed batch", func() {
		runner := NewRunner(newConfig(nil))
		good := scenarioInputs(1)
		short := scenarioInputs(2)
		short.History = mat.DenseCopyOf(short.History.Slice(0, 3, 0, len(short.Background)))

		_, err := runner.RunWindows(ctx, []Window{{Name: "a", Inputs: good}, {Name: "b", Inputs: short}}, 1)
		Expect(err).To(MatchError(varda.ErrShape))
		Expect(err.Error()).To(ContainSubstring("window b"))
		Expect(runner.Windows()).To(BeEmpty())
		_, ok := runner.Latest("a")
		Expect(ok).To(BeFalse())
	})
})
