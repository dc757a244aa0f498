package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBufferLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New("test", level)
	l.SetOutput(&buf)
	return l, &buf
}

func TestLoggerFiltersByLevel(t *testing.T) {
	l, buf := newBufferLogger(LevelWarn)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] test: shown 2")
}

func TestLoggerKVAndBoundFields(t *testing.T) {
	l, buf := newBufferLogger(LevelDebug)

	l.With("provider", "mock").WithName("rag").InfoKV("query done", "state", "CO", "odd")

	line := buf.String()
	assert.Contains(t, line, "[INFO] rag: query done provider=mock state=CO odd=<missing value>")
}

func TestDerivedLoggersShareOutput(t *testing.T) {
	root, buf := newBufferLogger(LevelInfo)
	child := root.WithName("child")

	root.SetMinLevel(LevelError)
	child.Info("dropped")
	child.Error("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "[ERROR] child: kept")
}

func TestWithLevelOverridesParent(t *testing.T) {
	root, buf := newBufferLogger(LevelError)
	root.WithLevel(LevelDebug).Debug("verbose")
	assert.Contains(t, buf.String(), "[DEBUG] test: verbose")
}

func TestWriteTrimsNewlines(t *testing.T) {
	l, buf := newBufferLogger(LevelInfo)
	n, err := l.Write([]byte("GET /healthz 200\n"))
	assert.NoError(t, err)
	assert.Equal(t, len("GET /healthz 200\n"), n)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestFatalCallsExit(t *testing.T) {
	l, _ := newBufferLogger(LevelInfo)
	code := -1
	l.out.exit = func(c int) { code = c }
	l.Fatal("boom")
	assert.Equal(t, 1, code)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"fatal":   LevelFatal,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}
