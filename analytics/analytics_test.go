package analytics

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/agentflow/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type recordingCollector struct {
	mu     sync.Mutex
	events []model.FlowEvent
	jobs   []model.FlowJob
	block  chan struct{}
}

func (r *recordingCollector) RecordEvent(event model.FlowEvent) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingCollector) RecordJob(job model.FlowJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func TestDispatcher(t *testing.T) {
	var wg sync.WaitGroup
	collector := &recordingCollector{}
	d := NewDispatcher(collector, 16, &wg)
	d.Start()
	d.OnEvents([]*model.FlowEvent{
		{Id: 1, SessionId: "s1", EventType: model.EVENT_FLOW_STARTED},
		{Id: 2, SessionId: "s1", EventType: model.EVENT_STEP_STARTED},
	})
	d.OnJobFinished(&model.FlowJob{Id: "j1", Status: model.JOB_COMPLETED})
	d.Stop()
	wg.Wait()

	require.Len(t, collector.events, 2)
	require.Equal(t, int64(2), collector.events[1].Id)
	require.Len(t, collector.jobs, 1)
}

func TestDispatcherNeverBlocks(t *testing.T) {
	var wg sync.WaitGroup
	collector := &recordingCollector{block: make(chan struct{})}
	d := NewDispatcher(collector, 1, &wg)
	d.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.OnEvents([]*model.FlowEvent{{Id: int64(i), EventType: model.EVENT_STEP_STARTED}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher blocked the caller")
	}
	close(collector.block)
	d.Stop()
	wg.Wait()
	require.Less(t, len(collector.events), 100)
}

func TestPrometheusDataCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewDataCollector(DataCollectorConfig{CollectorType: PROMETHEUS_DATA_COLLECTOR}, reg)
	require.NoError(t, err)
	p := c.(*PrometheusDataCollector)

	p.RecordEvent(model.FlowEvent{EventType: model.EVENT_STEP_COMPLETED, Status: "RUNNING", PromptTokens: 10, CompletionTokens: 4, Cost: 0.5})
	p.RecordEvent(model.FlowEvent{EventType: model.EVENT_STEP_COMPLETED, Status: "RUNNING"})
	p.RecordJob(model.FlowJob{Status: model.JOB_FAILED})

	require.Equal(t, 2.0, testutil.ToFloat64(p.events.WithLabelValues("STEP_COMPLETED", "RUNNING")))
	require.Equal(t, 10.0, testutil.ToFloat64(p.tokens.WithLabelValues("prompt")))
	require.Equal(t, 4.0, testutil.ToFloat64(p.tokens.WithLabelValues("completion")))
	require.Equal(t, 0.5, testutil.ToFloat64(p.cost))
	require.Equal(t, 1.0, testutil.ToFloat64(p.jobs.WithLabelValues("FAILED")))
}

func TestLogFileDataCollector(t *testing.T) {
	file := filepath.Join(t.TempDir(), "analytics.log")
	c, err := NewDataCollector(DataCollectorConfig{CollectorType: LOG_FILE_DATA_COLLECTOR, FileName: file}, nil)
	require.NoError(t, err)
	lc := c.(*LogFileDataCollector)
	lc.RecordEvent(model.FlowEvent{Id: 7, SessionId: "s1", EventType: model.EVENT_FLOW_COMPLETED, Status: "COMPLETED"})
	lc.RecordJob(model.FlowJob{Id: "j1", Status: model.JOB_COMPLETED})
	lc.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"type":"FLOW_COMPLETED"`)
	require.Contains(t, lines[1], `"id":"j1"`)
}

func TestUnknownCollector(t *testing.T) {
	_, err := NewDataCollector(DataCollectorConfig{CollectorType: "ELASTIC"}, nil)
	require.Error(t, err)
}
