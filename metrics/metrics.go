package metrics

import (
	"github.com/manningwu07/namer/evaluate"
	"github.com/manningwu07/namer/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the metrics of one run in a private registry, so several
// runs in one process never collide.
type Collector struct {
	reg *prometheus.Registry

	epochs          prometheus.Counter
	epochSeconds    prometheus.Summary
	loss            prometheus.Gauge
	accuracy        prometheus.Gauge
	valLoss         prometheus.Gauge
	valAccuracy     prometheus.Gauge
	bestEpoch       prometheus.Gauge
	bestValAccuracy prometheus.Gauge

	examples  *prometheus.CounterVec
	exampleF1 prometheus.Summary
	macroF1   prometheus.Gauge
}

func New(modelType, runName string) *Collector {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"model_type": modelType, "run_name": runName}
	f := promauto.With(reg)
	return &Collector{
		reg:             reg,
		epochs:          f.NewCounter(prometheus.CounterOpts{Name: "namer_epochs_total", Help: "Completed training epochs", ConstLabels: labels}),
		epochSeconds:    f.NewSummary(prometheus.SummaryOpts{Name: "namer_epoch_seconds", Help: "Wall time per epoch", ConstLabels: labels}),
		loss:            f.NewGauge(prometheus.GaugeOpts{Name: "namer_train_loss", Help: "Mean token loss of the last epoch", ConstLabels: labels}),
		accuracy:        f.NewGauge(prometheus.GaugeOpts{Name: "namer_train_accuracy", Help: "Token accuracy of the last epoch", ConstLabels: labels}),
		valLoss:         f.NewGauge(prometheus.GaugeOpts{Name: "namer_val_loss", Help: "Validation loss of the last epoch", ConstLabels: labels}),
		valAccuracy:     f.NewGauge(prometheus.GaugeOpts{Name: "namer_val_accuracy", Help: "Validation accuracy of the last epoch", ConstLabels: labels}),
		bestEpoch:       f.NewGauge(prometheus.GaugeOpts{Name: "namer_best_epoch", Help: "Epoch of the best checkpoint", ConstLabels: labels}),
		bestValAccuracy: f.NewGauge(prometheus.GaugeOpts{Name: "namer_best_val_accuracy", Help: "Validation accuracy of the best checkpoint", ConstLabels: labels}),
		examples:        f.NewCounterVec(prometheus.CounterOpts{Name: "namer_eval_examples_total", Help: "Evaluated examples by outcome", ConstLabels: labels}, []string{"outcome"}),
		exampleF1:       f.NewSummary(prometheus.SummaryOpts{Name: "namer_eval_example_f1", Help: "Per-example F1", ConstLabels: labels}),
		macroF1:         f.NewGauge(prometheus.GaugeOpts{Name: "namer_eval_macro_f1", Help: "Macro F1 of the last evaluation", ConstLabels: labels}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) ObserveEpoch(e model.EpochMetrics) {
	c.epochs.Inc()
	c.epochSeconds.Observe(e.Duration.Seconds())
	c.loss.Set(e.Loss)
	c.accuracy.Set(e.Accuracy)
	c.valLoss.Set(e.ValLoss)
	c.valAccuracy.Set(e.ValAccuracy)
}

func (c *Collector) ObserveCheckpoint(ck *model.Checkpoint) {
	c.bestEpoch.Set(float64(ck.Epoch))
	c.bestValAccuracy.Set(ck.ValAccuracy)
}

// ObserveExample is safe for concurrent use from evaluation workers.
func (c *Collector) ObserveExample(ex evaluate.Example) {
	if ex.Err != nil {
		c.examples.WithLabelValues("skipped").Inc()
		return
	}
	c.examples.WithLabelValues("scored").Inc()
	c.exampleF1.Observe(ex.Score.F1)
}

func (c *Collector) ObserveEvaluation(res *evaluate.Result) {
	c.macroF1.Set(res.Macro.F1)
}

// WriteTextfile dumps the registry in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.reg)
}
