package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLinesSink_EmitsOneObjectPerLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := newFixture(t, func(o *Options) { o.Sink = NewJSONLinesSink(&buf) })
	recordN(t, f.rec, 2)

	sc := bufio.NewScanner(&buf)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)

	first := lines[0]
	for _, key := range []string{
		"level", "actor", "action", "target", "status", "organizationId", "ipAddress",
		"changes", "integrityHash", "previousHash", "chainStart", "timestamp",
		"chainId", "sequence", "host", "pid",
	} {
		assert.Contains(t, first, key)
	}
	assert.Equal(t, LevelAudit, first["level"])
	assert.Equal(t, true, first["chainStart"])
	assert.Equal(t, GenesisHash, first["previousHash"])
	assert.Equal(t, float64(os.Getpid()), first["pid"])
	assert.Equal(t, first["integrityHash"], lines[1]["previousHash"])
}

func TestJSONLinesSink_LinesDecodeToVerifiableEntries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := newFixture(t, func(o *Options) { o.Sink = NewJSONLinesSink(&buf) })
	recordN(t, f.rec, 3)

	var entries []Entry
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var e Entry
		require.NoError(t, dec.Decode(&e))
		entries = append(entries, e)
	}
	assert.True(t, NewVerifier(f.hash, quietLogger(), nil).Verify(entries).Valid)
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestMultiSink(t *testing.T) {
	t.Parallel()

	ok := &captureSink{}
	m := MultiSink{ok, NewJSONLinesSink(errWriter{})}

	err := m.Emit(context.Background(), sampleEntry())
	assert.ErrorContains(t, err, "closed")
	assert.Len(t, ok.emitted(), 1, "healthy sinks still receive the entry")
}

type fakePublisher struct {
	topic, key string
	payload    []byte
	err        error
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.topic, p.key, p.payload = topic, key, payload
	return p.err
}

func TestKafkaSink(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink := NewKafkaSink(pub, "")
	e := sampleEntry()
	e.IntegrityHash = "cafe"

	require.NoError(t, sink.Emit(context.Background(), e))
	assert.Equal(t, DefaultKafkaTopic, pub.topic)
	assert.Equal(t, "o1", pub.key)

	var line map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &line))
	assert.Equal(t, LevelAudit, line["level"])
	assert.Equal(t, "cafe", line["integrityHash"])

	pub.err = errors.New("leader not available")
	assert.ErrorContains(t, sink.Emit(context.Background(), e), "leader not available")
}
