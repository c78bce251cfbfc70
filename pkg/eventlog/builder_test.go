package eventlog

import (
	"math"
	"reflect"
	"testing"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

var callCentreNodes = []string{"operator", "nurse"}

type wantEntry struct {
	event string
	time  float64
}

func assertBlock(t *testing.T, got []model.EventLogEntry, want []wantEntry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Event != w.event || got[i].Time != w.time {
			t.Errorf("entry %d: got %s@%v, want %s@%v", i, got[i].Event, got[i].Time, w.event, w.time)
		}
	}
}

func TestBuild_OperatorOnlyCaller(t *testing.T) {
	records := []model.TraceRecord{
		{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 2, ServiceEndDate: 5, ServerID: 4, ExitDate: model.Float(5)},
	}

	log, err := Build(records, callCentreNodes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	assertBlock(t, log, []wantEntry{
		{"arrival", 0},
		{"operator_wait_begins", 0},
		{"operator_begins", 2},
		{"operator_ends", 5},
		{"depart", 5},
	})

	for _, e := range log {
		if e.Patient != 1 {
			t.Errorf("expected patient 1, got %d", e.Patient)
		}
		if e.Pathway != "Model" {
			t.Errorf("expected pathway Model, got %q", e.Pathway)
		}
	}

	if log[0].EventType != model.EventTypeArrivalDeparture || log[1].EventType != model.EventTypeQueue ||
		log[2].EventType != model.EventTypeResourceUse || log[4].EventType != model.EventTypeArrivalDeparture {
		t.Errorf("unexpected event types: %+v", log)
	}
	if log[2].ResourceID == nil || *log[2].ResourceID != 4 || log[3].ResourceID == nil || *log[3].ResourceID != 4 {
		t.Errorf("resource_use entries should carry server 4")
	}
	if log[0].HasResource() || log[1].HasResource() || log[4].HasResource() {
		t.Errorf("only resource_use entries may carry a resource id")
	}
}

func TestBuild_CallerWithNurseCallback(t *testing.T) {
	records := []model.TraceRecord{
		{EntityID: 2, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 3, ServerID: 1},
		{EntityID: 2, ArrivalDate: 3, ServiceStartDate: 4, ServiceEndDate: 10, ServerID: 2, ExitDate: model.Float(10)},
	}

	log, err := Build(records, callCentreNodes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	assertBlock(t, log, []wantEntry{
		{"arrival", 0},
		{"operator_wait_begins", 0},
		{"operator_begins", 1},
		{"operator_ends", 3},
		{"nurse_wait_begins", 3},
		{"nurse_begins", 4},
		{"nurse_ends", 10},
		{"depart", 10},
	})
	if *log[5].ResourceID != 2 {
		t.Errorf("nurse_begins should carry server 2, got %d", *log[5].ResourceID)
	}
}

func TestBuild_EntryCountAndOrderingPerEntity(t *testing.T) {
	// Interleaved input: entities arrive mixed, as an engine dump would be.
	records := []model.TraceRecord{
		{EntityID: 10, ArrivalDate: 0, ServiceStartDate: 0.5, ServiceEndDate: 2, ServerID: 1},
		{EntityID: 11, ArrivalDate: 1, ServiceStartDate: 2, ServiceEndDate: 4, ServerID: 2, ExitDate: model.Float(4)},
		{EntityID: 12, ArrivalDate: 1.5, ServiceStartDate: 2, ServiceEndDate: 3, ServerID: 3},
		{EntityID: 10, ArrivalDate: 2, ServiceStartDate: 7, ServiceEndDate: 9, ServerID: 1, ExitDate: model.Float(9)},
		{EntityID: 12, ArrivalDate: 3, ServiceStartDate: 3, ServiceEndDate: 8, ServerID: 2, ExitDate: model.Float(8.5)},
	}

	log, err := Build(records, callCentreNodes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	visits := map[int]int{}
	for _, r := range records {
		visits[r.EntityID]++
	}

	counts := map[int]int{}
	lastTime := map[int]float64{}
	order := []int{}
	for _, e := range log {
		if counts[e.Patient] == 0 {
			order = append(order, e.Patient)
		} else if e.Time < lastTime[e.Patient] {
			t.Errorf("patient %d: %s@%v goes back in time (prev %v)", e.Patient, e.Event, e.Time, lastTime[e.Patient])
		}
		counts[e.Patient]++
		lastTime[e.Patient] = e.Time
	}

	for id, k := range visits {
		if want := 1 + 3*k + 1; counts[id] != want {
			t.Errorf("patient %d: expected %d entries, got %d", id, want, counts[id])
		}
	}

	if !reflect.DeepEqual(order, []int{10, 11, 12}) {
		t.Errorf("expected entity blocks in first-appearance order, got %v", order)
	}

	// Blocks are contiguous.
	seen := map[int]bool{}
	prev := -1
	for _, e := range log {
		if e.Patient != prev {
			if seen[e.Patient] {
				t.Fatalf("patient %d block is not contiguous", e.Patient)
			}
			seen[e.Patient] = true
			prev = e.Patient
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	records := []model.TraceRecord{
		{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 3, ServerID: 1},
		{EntityID: 2, ArrivalDate: 0.2, ServiceStartDate: 1.5, ServiceEndDate: 2, ServerID: 2, ExitDate: model.Float(2)},
		{EntityID: 1, ArrivalDate: 3, ServiceStartDate: 4, ServiceEndDate: 10, ServerID: 1, ExitDate: model.Float(10)},
	}

	first, err := Build(records, callCentreNodes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	second, err := Build(records, callCentreNodes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Build is not idempotent")
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	log, err := Build(nil, callCentreNodes)
	if err != nil {
		t.Fatalf("empty input should not fail: %v", err)
	}
	if log == nil || len(log) != 0 {
		t.Errorf("expected empty non-nil log, got %v", log)
	}
}

func TestBuild_TooFewNodeLabels(t *testing.T) {
	records := []model.TraceRecord{
		{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 3, ServerID: 1},
		{EntityID: 1, ArrivalDate: 3, ServiceStartDate: 4, ServiceEndDate: 10, ServerID: 1, ExitDate: model.Float(10)},
	}

	log, err := Build(records, []string{"operator"})
	if err == nil {
		t.Fatalf("expected node-label mismatch, got log of %d entries", len(log))
	}
	if !errors.IsCode(err, errors.CodeNodeLabelMismatch) {
		t.Errorf("expected CodeNodeLabelMismatch, got %v", err)
	}
	if log != nil {
		t.Error("no partial log may be returned on failure")
	}
}

func TestBuild_GeneralizesToLongerPipelines(t *testing.T) {
	nodes := []string{"triage", "operator", "nurse", "gp"}
	var records []model.TraceRecord
	tm := 0.0
	for i := range nodes {
		rec := model.TraceRecord{EntityID: 7, ArrivalDate: tm, ServiceStartDate: tm + 1, ServiceEndDate: tm + 2, ServerID: i}
		if i == len(nodes)-1 {
			rec.ExitDate = model.Float(tm + 2)
		}
		records = append(records, rec)
		tm += 2
	}

	log, err := Build(records, nodes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(log) != 1+3*len(nodes)+1 {
		t.Fatalf("expected %d entries, got %d", 1+3*len(nodes)+1, len(log))
	}
	if log[len(log)-2].Event != "gp_ends" {
		t.Errorf("expected gp_ends before depart, got %s", log[len(log)-2].Event)
	}
}

func TestBuild_MalformedRecords(t *testing.T) {
	tests := []struct {
		name    string
		records []model.TraceRecord
	}{
		{
			name: "service before arrival",
			records: []model.TraceRecord{
				{EntityID: 1, ArrivalDate: 5, ServiceStartDate: 4, ServiceEndDate: 6, ExitDate: model.Float(6)},
			},
		},
		{
			name: "end before start",
			records: []model.TraceRecord{
				{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 4, ServiceEndDate: 3, ExitDate: model.Float(6)},
			},
		},
		{
			name: "missing exit",
			records: []model.TraceRecord{
				{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 2},
			},
		},
		{
			name: "exit before end",
			records: []model.TraceRecord{
				{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 2, ExitDate: model.Float(1.5)},
			},
		},
		{
			name: "second arrival before first end",
			records: []model.TraceRecord{
				{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 5},
				{EntityID: 1, ArrivalDate: 4, ServiceStartDate: 6, ServiceEndDate: 7, ExitDate: model.Float(7)},
			},
		},
		{
			name: "nan arrival",
			records: []model.TraceRecord{
				{EntityID: 1, ArrivalDate: math.NaN(), ServiceStartDate: 1, ServiceEndDate: 2, ExitDate: model.Float(2)},
			},
		},
		{
			name: "nan service end",
			records: []model.TraceRecord{
				{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: math.NaN(), ExitDate: model.Float(2)},
			},
		},
		{
			name: "infinite exit",
			records: []model.TraceRecord{
				{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 2, ExitDate: model.Float(math.Inf(1))},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.records, callCentreNodes)
			if !errors.IsCode(err, errors.CodeMalformedRecord) {
				t.Errorf("expected CodeMalformedRecord, got %v", err)
			}
		})
	}
}

func TestNewBuilder_RejectsBadLabels(t *testing.T) {
	for _, labels := range [][]string{{"operator", ""}, {"operator", "operator"}} {
		if _, err := NewBuilder(labels); !errors.IsCode(err, errors.CodeInvalidConfig) {
			t.Errorf("labels %v: expected CodeInvalidConfig, got %v", labels, err)
		}
	}
}

func TestNewBuilder_WithPathway(t *testing.T) {
	b, err := NewBuilder([]string{"operator"}, WithPathway("Urgent care"))
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	log, err := b.Build([]model.TraceRecord{
		{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 0, ServiceEndDate: 1, ExitDate: model.Float(1)},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, e := range log {
		if e.Pathway != "Urgent care" {
			t.Fatalf("expected custom pathway, got %q", e.Pathway)
		}
	}
}

func TestDistinctEvents(t *testing.T) {
	log, err := Build([]model.TraceRecord{
		{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 2, ExitDate: model.Float(2)},
		{EntityID: 2, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 2, ExitDate: model.Float(2)},
	}, callCentreNodes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got := DistinctEvents(log)
	want := []string{"arrival", "operator_wait_begins", "operator_begins", "operator_ends", "depart"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DistinctEvents = %v, want %v", got, want)
	}
}

func BenchmarkBuild(b *testing.B) {
	records := make([]model.TraceRecord, 0, 20000)
	for id := 0; id < 10000; id++ {
		start := float64(id)
		records = append(records,
			model.TraceRecord{EntityID: id, ArrivalDate: start, ServiceStartDate: start + 1, ServiceEndDate: start + 2, ServerID: id % 13},
			model.TraceRecord{EntityID: id, ArrivalDate: start + 2, ServiceStartDate: start + 3, ServiceEndDate: start + 5, ServerID: id % 9, ExitDate: model.Float(start + 5)},
		)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Build(records, callCentreNodes); err != nil {
			b.Fatalf("Build failed: %v", err)
		}
	}
}
