package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func encode(t *testing.T, frames ...models.Frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range frames {
		line, err := json.Marshal(f)
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func heartbeat() models.Frame { return models.Frame{Heartbeat: true, Timestamp: 1} }

func partial(s string) models.Frame { return models.Frame{PartialSummary: s} }

func TestSplitter_AccumulatesRegardlessOfHeartbeatsAndChunking(t *testing.T) {
	content := []models.Frame{partial("A"), partial("B"), partial("C")}

	// every placement of a single heartbeat, plus heartbeats everywhere
	var sequences [][]models.Frame
	for pos := 0; pos <= len(content); pos++ {
		seq := append([]models.Frame{}, content[:pos]...)
		seq = append(seq, heartbeat())
		seq = append(seq, content[pos:]...)
		sequences = append(sequences, seq)
	}
	sequences = append(sequences, []models.Frame{
		heartbeat(), partial("A"), heartbeat(), heartbeat(), partial("B"), heartbeat(), partial("C"), heartbeat(),
	})

	for _, seq := range sequences {
		data := encode(t, seq...)
		for size := 1; size <= len(data); size++ {
			sp := NewSplitter(nil)
			acc := NewAccumulator("")
			for off := 0; off < len(data); off += size {
				end := min(off+size, len(data))
				for _, f := range sp.Feed(data[off:end]) {
					acc.Apply(f, time.Now())
				}
			}
			for _, f := range sp.Flush() {
				acc.Apply(f, time.Now())
			}
			require.Equal(t, "ABC", acc.Partial(), "chunk size %d", size)
		}
	}
}

func TestSplitter_SkipsMalformedFrames(t *testing.T) {
	sp := NewSplitter(nil)
	input := "{\"partialSummary\":\"A\"}\n{not json}\n{\"status\":\"thinking\"}\n{}\n{\"partialSummary\":\"B\"}"

	frames := sp.Feed([]byte(input))
	frames = append(frames, sp.Flush()...)

	require.Len(t, frames, 2)
	assert.Equal(t, "A", frames[0].PartialSummary)
	assert.Equal(t, "B", frames[1].PartialSummary)
	assert.Equal(t, 3, sp.Skipped())
}

func TestAccumulator_StickyProvenanceAndMonotonicProgress(t *testing.T) {
	acc := NewAccumulator("run-1")
	now := time.Now()

	acc.Apply(models.Frame{WebResearchUsed: models.Bool(true), Progress: models.Float(40)}, now)
	acc.Apply(models.Frame{WebResearchUsed: models.Bool(false), Progress: models.Float(20)}, now)
	acc.Apply(models.Frame{RequestID: "run-0", PartialSummary: "stale"}, now)
	acc.Apply(models.Frame{RequestID: "run-1", PartialSummary: "fresh"}, now)
	acc.Apply(models.Frame{Status: models.StatusComplete, Summary: "fresh"}, now)

	out, err := acc.Finish(now, time.Second)
	require.NoError(t, err)
	assert.True(t, out.WebResearchUsed)
	assert.Equal(t, "fresh", out.Summary)
	assert.Equal(t, float64(100), out.Progress)
	assert.False(t, out.Interrupted)
}

func TestAccumulator_PrematureEnd(t *testing.T) {
	now := time.Now()

	t.Run("no terminal frame is a protocol error", func(t *testing.T) {
		acc := NewAccumulator("")
		acc.Apply(partial("A"), now)
		_, err := acc.Finish(now, 5*time.Second)
		assert.True(t, apperrors.Is(err, apperrors.KindStreamProtocol))
	})

	t.Run("recent heartbeat is an interruption", func(t *testing.T) {
		acc := NewAccumulator("")
		acc.Apply(partial("A"), now)
		acc.Apply(heartbeat(), now)
		out, err := acc.Finish(now.Add(2*time.Second), 5*time.Second)
		require.NoError(t, err)
		assert.True(t, out.Interrupted)
		assert.Equal(t, "A", out.Summary)
	})

	t.Run("stale heartbeat is a protocol error", func(t *testing.T) {
		acc := NewAccumulator("")
		acc.Apply(heartbeat(), now)
		_, err := acc.Finish(now.Add(10*time.Second), 5*time.Second)
		assert.True(t, apperrors.Is(err, apperrors.KindStreamProtocol))
	})
}

func TestAccumulator_ErrorFrameCarriesKind(t *testing.T) {
	acc := NewAccumulator("")
	acc.Apply(models.Frame{Status: models.StatusError, Message: "busy", ErrorKind: string(apperrors.KindRateLimited)}, time.Now())

	_, err := acc.Finish(time.Now(), time.Second)
	assert.True(t, apperrors.Is(err, apperrors.KindRateLimited))
}

func TestConsume_ReadsUntilTerminal(t *testing.T) {
	data := encode(t,
		models.Frame{Status: models.StatusGenerating, Message: "Generating summary..."},
		partial("Hello "),
		heartbeat(),
		partial("world"),
		models.Frame{Status: models.StatusComplete, Summary: "Hello world", ResearchID: "r-1"},
	)

	var seen int
	out, err := Consume(context.Background(), io.NopCloser(bytes.NewReader(data)), ConsumeOptions{
		HeartbeatInterval: time.Second,
		OnFrame:           func(models.Frame, string) { seen++ },
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out.Summary)
	assert.Equal(t, "r-1", out.ResearchID)
	assert.Equal(t, 5, seen)
}

func TestConsume_StallAbortsRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	go func() {
		_, _ = pw.Write(encode(t, partial("A")))
	}()

	_, err := Consume(context.Background(), pr, ConsumeOptions{StallTimeout: 50 * time.Millisecond})
	assert.True(t, apperrors.Is(err, apperrors.KindStreamProtocol))
}

func TestConsume_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Consume(ctx, pr, ConsumeOptions{StallTimeout: time.Minute})
	assert.True(t, apperrors.Is(err, apperrors.KindCancelled))
}

func TestWriter_StampsRequestIDAndHeartbeats(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())

	w := NewWriter(rec, "run-42")
	w.StartHeartbeat(10 * time.Millisecond)
	require.NoError(t, w.Emit(partial("A")))
	time.Sleep(35 * time.Millisecond)
	require.NoError(t, w.Emit(models.Frame{Status: models.StatusComplete, Summary: "A"}))
	w.Close()

	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	var heartbeats int
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		var f models.Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f))
		assert.Equal(t, "run-42", f.RequestID)
		if f.Heartbeat {
			heartbeats++
		}
	}
	assert.GreaterOrEqual(t, heartbeats, 1)
}
