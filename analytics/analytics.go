// Package analytics records flow events and job outcomes off the hot path.
// Collectors are fed through a Dispatcher that never blocks the engine.
package analytics

import (
	"fmt"

	"github.com/mohitkumar/agentflow/model"
	"github.com/prometheus/client_golang/prometheus"
)

type DataCollectorConfig struct {
	FileName      string            `mapstructure:"file-name"`
	CollectorType DataCollectorType `mapstructure:"collector-type"`
	BufferSize    int               `mapstructure:"buffer-size"`
}

type DataCollectorType string

const (
	LOG_FILE_DATA_COLLECTOR   DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
	PROMETHEUS_DATA_COLLECTOR DataCollectorType = "PROMETHEUS_DATA_COLLECTOR"
	NOOP_DATA_COLLECTOR       DataCollectorType = "NOOP_DATA_COLLECTOR"
)

type DataCollector interface {
	RecordEvent(event model.FlowEvent)
	RecordJob(job model.FlowJob)
}

type noopCollector struct{}

func (noopCollector) RecordEvent(event model.FlowEvent) {}
func (noopCollector) RecordJob(job model.FlowJob)       {}

// NewDataCollector builds the configured collector. Prometheus metrics are
// registered with reg.
func NewDataCollector(config DataCollectorConfig, reg prometheus.Registerer) (DataCollector, error) {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		return NewLogFileDataCollector(config.FileName)
	case PROMETHEUS_DATA_COLLECTOR:
		return NewPrometheusDataCollector(reg), nil
	case NOOP_DATA_COLLECTOR, "":
		return noopCollector{}, nil
	default:
		return nil, fmt.Errorf("unknown data collector type %q", config.CollectorType)
	}
}
