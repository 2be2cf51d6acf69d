package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not registered", name)
	return nil
}

func TestMessagesProcessedCounter(t *testing.T) {
	before := testutil.ToFloat64(MessagesProcessed.WithLabelValues("replied"))
	MessagesProcessed.WithLabelValues("replied").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(MessagesProcessed.WithLabelValues("replied")))
}

func TestReplySendDurationIsHistogram(t *testing.T) {
	ReplySendDuration.Observe(0.2)

	mf := findFamily(t, "testbench_reply_send_duration_seconds")
	assert.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())
	require.Len(t, mf.GetMetric(), 1)
	assert.GreaterOrEqual(t, mf.GetMetric()[0].GetHistogram().GetSampleCount(), uint64(1))
}

func TestIMAPCommandsLabels(t *testing.T) {
	IMAPCommandsTotal.WithLabelValues("SEARCH", "success").Inc()

	mf := findFamily(t, "testbench_imap_commands_total")
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())

	found := false
	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["command"] == "SEARCH" && labels["status"] == "success" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestWriteTextfile(t *testing.T) {
	RunsTotal.WithLabelValues("replied").Inc()
	path := filepath.Join(t.TempDir(), "testbench.prom")

	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "testbench_reply_runs_total"))

	assert.Error(t, WriteTextfile(""))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(204))
	assert.Equal(t, "3xx", StatusClass(302))
	assert.Equal(t, "4xx", StatusClass(404))
	assert.Equal(t, "5xx", StatusClass(503))
	assert.Equal(t, "error", StatusClass(0))
}
