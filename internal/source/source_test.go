package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

var t0 = time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

// memSink is an in-memory Sink assigning sequential IDs.
type memSink struct {
	mu       sync.Mutex
	readings []spray.Reading
	err      error
}

func (s *memSink) AppendReading(_ context.Context, r spray.Reading) (spray.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return r, s.err
	}
	r.ID = int64(len(s.readings) + 1)
	s.readings = append(s.readings, r)
	return r, nil
}

func (s *memSink) snapshot() []spray.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spray.Reading(nil), s.readings...)
}

func (s *memSink) len() int { return len(s.snapshot()) }

func newIngester(sink Sink) *Ingester {
	return NewIngester(sink, Parser{}, timeutil.NewMockClock(t0), nil)
}

func TestParser_JSON(t *testing.T) {
	r, err := Parser{}.Parse([]byte(`{"time":"2026-05-04T07:00:01Z","gelcoat_pulses":3,"gelcoat_speed":41.5,"pressure":4.2,"water_level_1":0.4}`))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), r.Time)
	assert.Equal(t, 3.0, r.GelcoatPulses)
	assert.Equal(t, 41.5, r.GelcoatSpeed)
	assert.Equal(t, 4.2, r.Pressure)
	assert.Equal(t, 0.4, r.WaterLevel1)
	assert.Zero(t, r.BarrierPulses)
}

func TestParser_BoardJSON(t *testing.T) {
	loc := time.FixedZone("plant", 2*3600)
	line := `{"time":"2026-05-04 09:00:05 AM","Barr_pulses":2,"Gelcoat_pulses":0,"Barrier_speedRPM":12.5,"Gelcoat_speedRPM":0,"WaterLevel_1":0.31,"WaterLevel_2":0.5,"Pressure":0.18}`
	r, err := Parser{Location: loc}.Parse([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Second), r.Time, "local board time converted to UTC")
	assert.Equal(t, 2.0, r.BarrierPulses)
	assert.Equal(t, 12.5, r.BarrierSpeed)
	assert.Equal(t, 0.5, r.WaterLevel2)
	assert.Equal(t, 0.18, r.Pressure)
}

func TestParser_CSV(t *testing.T) {
	r, err := Parser{}.Parse([]byte("2, 3, 20, 30, 0.1, 0.2, 4\n"))
	require.NoError(t, err)
	assert.True(t, r.Time.IsZero())
	assert.Equal(t, spray.Reading{
		BarrierPulses: 2, GelcoatPulses: 3,
		BarrierSpeed: 20, GelcoatSpeed: 30,
		WaterLevel1: 0.1, WaterLevel2: 0.2,
		Pressure: 4,
	}, r)

	r, err = Parser{}.Parse([]byte("2026-05-04T07:00:02Z,0,1,0,25,0,0,3.5"))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Second), r.Time)
	assert.Equal(t, 25.0, r.GelcoatSpeed)
}

func TestParser_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"1,2,3",
		"a,b,c,d,e,f,g",
		`{"gelcoat_pulses": "many"}`,
		`{"time":"yesterday"}`,
		"NaN,0,0,0,0,0,0",
	} {
		_, err := Parser{}.Parse([]byte(line))
		assert.ErrorIs(t, err, ErrMalformed, "line %q", line)
	}
}

func TestIngester_StampsAndCounts(t *testing.T) {
	sink := &memSink{}
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	in := NewIngester(sink, Parser{}, timeutil.NewMockClock(t0), metrics)
	ctx := context.Background()

	require.NoError(t, in.IngestLine(ctx, "test", []byte("0,1,0,30,0,0,4")))
	err := in.IngestLine(ctx, "test", []byte("garbage"))
	assert.ErrorIs(t, err, ErrMalformed)

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, t0, got[0].Time)
	assert.Equal(t, Stats{Accepted: 1, Rejected: 1}, in.Stats())

	count, err := testutil.GatherAndCount(reg, "spray_readings_rejected_total", "spray_readings_ingested_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIngester_SinkFailure(t *testing.T) {
	sink := &memSink{err: spray.ErrStoreUnavailable}
	in := newIngester(sink)
	err := in.IngestLine(context.Background(), "test", []byte("0,1,0,30,0,0,4"))
	assert.ErrorIs(t, err, spray.ErrStoreUnavailable)
	assert.Zero(t, in.Stats().Accepted)
}

func TestLineSource_ReadsUntilCancelled(t *testing.T) {
	sink := &memSink{}
	in := newIngester(sink)
	pr, pw := io.Pipe()
	src := NewLineSource("serial", pr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, in) }()

	_, err := io.WriteString(pw, "0,1,0,30,0,0,4\nnot a reading\n0,2,0,31,0,0,4\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), in.Stats().Rejected)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLineSource_EndOfStream(t *testing.T) {
	sink := &memSink{}
	in := newIngester(sink)
	pr, pw := io.Pipe()
	src := NewLineSource("serial", pr)

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), in) }()
	_, err := io.WriteString(pw, "0,1,0,30,0,0,4\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return at end of stream")
	}
	assert.Equal(t, 1, sink.len())
}

func TestLineSource_StopsOnStoreFailure(t *testing.T) {
	in := newIngester(&memSink{err: spray.ErrStoreUnavailable})
	pr, pw := io.Pipe()
	src := NewLineSource("serial", pr)

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), in) }()
	go io.WriteString(pw, "0,1,0,30,0,0,4\n")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, spray.ErrStoreUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on store failure")
	}
}

type fakeReader struct{ io.Reader }

func (f fakeReader) Close() error { return nil }

func TestSerial_OpensWithMode(t *testing.T) {
	s, err := NewSerial("/dev/ttyUSB0", PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"})
	require.NoError(t, err)

	var gotPath string
	var gotMode *serial.Mode
	s.open = func(path string, mode *serial.Mode) (io.ReadCloser, error) {
		gotPath, gotMode = path, mode
		return fakeReader{strings.NewReader("0,1,0,30,0,0,4\n")}, nil
	}

	sink := &memSink{}
	require.NoError(t, s.Run(context.Background(), newIngester(sink)))
	assert.Equal(t, "/dev/ttyUSB0", gotPath)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.EvenParity}, gotMode)
	assert.Equal(t, 1, sink.len())
}

func TestSerial_OpenFailure(t *testing.T) {
	s, err := NewSerial("/dev/missing", PortOptions{})
	require.NoError(t, err)
	s.open = func(string, *serial.Mode) (io.ReadCloser, error) {
		return nil, errors.New("no such device")
	}
	err = s.Run(context.Background(), newIngester(&memSink{}))
	assert.ErrorContains(t, err, "/dev/missing")
}

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)
	_, err = NewSerial("/dev/ttyUSB0", PortOptions{Parity: "mark"})
	assert.Error(t, err)
}

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "readings.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFixture_Replay(t *testing.T) {
	path := writeFixture(t, `{"time":"2026-01-01T00:00:00Z","gelcoat_pulses":1,"gelcoat_speed":30}
{"time":"2026-01-01T00:00:01Z","gelcoat_pulses":2,"gelcoat_speed":31}

garbage
{"time":"2026-01-01T00:00:03Z","gelcoat_pulses":1,"gelcoat_speed":29}
`)
	sink := &memSink{}
	in := newIngester(sink)
	f := NewFixture(path, 0, timeutil.NewMockClock(t0))
	f.Rebase = true

	require.NoError(t, f.Run(context.Background(), in))
	got := sink.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, t0, got[0].Time)
	assert.Equal(t, t0.Add(time.Second), got[1].Time)
	assert.Equal(t, t0.Add(3*time.Second), got[2].Time)
	assert.Equal(t, int64(1), in.Stats().Rejected)
}

func TestFixture_Paced(t *testing.T) {
	path := writeFixture(t, "0,1,0,30,0,0,4\n0,1,0,30,0,0,4\n0,1,0,30,0,0,4\n")
	clock := timeutil.NewMockClock(t0)
	sink := &memSink{}
	f := NewFixture(path, time.Second, clock)

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background(), newIngester(sink)) }()

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	for want := 2; want <= 3; want++ {
		clock.Advance(time.Second)
		require.Eventually(t, func() bool { return sink.len() == want }, 2*time.Second, 5*time.Millisecond)
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fixture did not finish")
	}
}

func TestFixture_Missing(t *testing.T) {
	f := NewFixture(filepath.Join(t.TempDir(), "none.jsonl"), 0, timeutil.NewMockClock(t0))
	assert.Error(t, f.Run(context.Background(), newIngester(&memSink{})))
}

type flakySource struct {
	runs int
	errs []error
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Run(context.Context, *Ingester) error {
	err := f.errs[f.runs]
	f.runs++
	return err
}

func TestRunWithRetry(t *testing.T) {
	src := &flakySource{errs: []error{errors.New("link down"), errors.New("link down"), nil}}
	err := RunWithRetry(context.Background(), src, newIngester(&memSink{}), time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, src.runs)
}

func TestRunWithRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &flakySource{errs: []error{errors.New("link down")}}
	err := RunWithRetry(ctx, src, newIngester(&memSink{}), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
