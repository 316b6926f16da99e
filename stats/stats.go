// Package stats implements the statistics file format of spec §6: one
// newline-terminated JSON object per operator, written to
// ${WF_LOG_DIR}/${pid}_${op_name}.json (or ./log/... if WF_LOG_DIR is
// unset), plus optional live Prometheus exposition of the same counters.
//
// Grounded on pipe/metrics.go's Metrics struct (Start, Duration, Input,
// Output, InFlight, and the Success/Failure/Cancel/Retry derived
// indicators) and useMetrics's atomic in-flight gauge, generalised from "one
// Metrics struct per processed item" to "one aggregated per-replica record
// written once at shutdown."
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	mstats "github.com/montanaflynn/stats"
)

// ReplicaCounters is one replica's lifetime counters, folded into a service
// time histogram at Finalize.
type ReplicaCounters struct {
	InputsReceived int64
	OutputsSent    int64
	BytesSent      int64
	BytesReceived  int64

	serviceTimes []float64
}

// Observe records one item's service time for this replica's histogram.
func (r *ReplicaCounters) Observe(d time.Duration) {
	r.serviceTimes = append(r.serviceTimes, float64(d.Microseconds()))
}

// ReplicaRecord is one replica's row in an operator's Replicas array.
type ReplicaRecord struct {
	InputsReceived int64   `json:"inputs_received"`
	OutputsSent    int64   `json:"outputs_sent"`
	BytesSent      int64   `json:"bytes_sent"`
	BytesReceived  int64   `json:"bytes_received"`
	ServiceTimeP50 float64 `json:"service_time_p50_us"`
	ServiceTimeP95 float64 `json:"service_time_p95_us"`
	ServiceTimeP99 float64 `json:"service_time_p99_us"`
}

// Record is the JSON object spec §6 requires per operator.
type Record struct {
	OperatorName    string          `json:"Operator_name"`
	OperatorType    string          `json:"Operator_type"`
	Distribution    string          `json:"Distribution"`
	IsTerminated    bool            `json:"isTerminated"`
	IsWindowed      bool            `json:"isWindowed"`
	WindowType      string          `json:"Window_type,omitempty"`
	WindowLength    uint64          `json:"Window_length,omitempty"`
	WindowSlide     uint64          `json:"Window_slide,omitempty"`
	Parallelism     int             `json:"Parallelism"`
	OutputBatchSize int             `json:"OutputBatchSize"`
	Replicas        []ReplicaRecord `json:"Replicas"`
}

// Finalize folds each replica's counters (including its service-time
// samples) into a Record ready to be written.
func Finalize(rec Record, counters []*ReplicaCounters) Record {
	rec.Replicas = make([]ReplicaRecord, len(counters))
	for i, c := range counters {
		rr := ReplicaRecord{
			InputsReceived: c.InputsReceived,
			OutputsSent:    c.OutputsSent,
			BytesSent:      c.BytesSent,
			BytesReceived:  c.BytesReceived,
		}
		if len(c.serviceTimes) > 0 {
			rr.ServiceTimeP50, _ = mstats.PercentileNearestRank(c.serviceTimes, 50)
			rr.ServiceTimeP95, _ = mstats.PercentileNearestRank(c.serviceTimes, 95)
			rr.ServiceTimeP99, _ = mstats.PercentileNearestRank(c.serviceTimes, 99)
		}
		rec.Replicas[i] = rr
	}
	return rec
}

// LogDir resolves the statistics output directory: WF_LOG_DIR if set,
// otherwise "./log".
func LogDir(wfLogDir string) string {
	if wfLogDir != "" {
		return wfLogDir
	}
	return "./log"
}

// Write appends rec as a newline-terminated JSON object to
// ${dir}/${pid}_${opName}.json, creating dir if needed.
func Write(dir string, pid int, opName string, rec Record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stats: create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d_%s.json", pid, opName))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("stats: open %s: %w", path, err)
	}
	defer f.Close()
	return WriteTo(f, rec)
}

// WriteTo writes rec as a single newline-terminated JSON line to w.
func WriteTo(w io.Writer, rec Record) error {
	enc := json.NewEncoder(w)
	return enc.Encode(rec)
}
