package metrics

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for command metrics.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultSpawnFailed = "spawn_failed"
)

var (
	registry = prometheus.NewRegistry()

	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concur",
		Name:      "commands_total",
		Help:      "Total number of supervised commands by result.",
	}, []string{"result"})

	commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "concur",
		Name:      "command_duration_seconds",
		Help:      "Wall-clock duration of supervised commands in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"result"})

	interruptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concur",
		Name:      "interrupts_total",
		Help:      "Operator interrupts handled, by the action taken on the children.",
	}, []string{"action"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "concur",
		Name:      "build_info",
		Help:      "Build metadata for the running concur binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(commandsTotal, commandDuration, interruptsTotal, buildInfo)
}

// Registry returns the Prometheus registry containing all concur metrics.
func Registry() *prometheus.Registry {
	return registry
}

// ResultFor maps an exit code to a result label.
func ResultFor(code int, spawnErr error) string {
	switch {
	case spawnErr != nil:
		return ResultSpawnFailed
	case code == 0:
		return ResultSuccess
	default:
		return ResultFailure
	}
}

// ObserveCommand records one finished command.
func ObserveCommand(result string, d time.Duration) {
	if result == "" {
		result = ResultFailure
	}
	commandsTotal.WithLabelValues(result).Inc()
	commandDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordInterrupt counts an interrupt escalation step ("interrupt" or "kill").
func RecordInterrupt(action string) {
	if action == "" {
		return
	}
	interruptsTotal.WithLabelValues(action).Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// WriteTextfile writes the registry in the text exposition format to path,
// atomically, for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
