package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordEscalation(t *testing.T) {
	before := testutil.ToFloat64(escalations.WithLabelValues("field_visit", "2"))
	RecordEscalation("field_visit", 2)
	RecordEscalation("field_visit", 2)
	assert.Equal(t, before+2, testutil.ToFloat64(escalations.WithLabelValues("field_visit", "2")))
}

func TestObserveScan(t *testing.T) {
	before := testutil.ToFloat64(delayScans.WithLabelValues("ok"))
	ObserveScan("ok", time.Now().Add(-time.Second), 7)

	assert.Equal(t, before+1, testutil.ToFloat64(delayScans.WithLabelValues("ok")))
	assert.Equal(t, float64(7), testutil.ToFloat64(delayedTrackings))
}

func TestRecordResult(t *testing.T) {
	before := testutil.ToFloat64(delayScanRecords.WithLabelValues("failed"))
	RecordResult("failed")
	assert.Equal(t, before+1, testutil.ToFloat64(delayScanRecords.WithLabelValues("failed")))
}
