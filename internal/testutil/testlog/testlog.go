package testlog

import (
	"bytes"
	"sync"
	"testing"

	"github.com/danmuck/elanbridge/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}

// Buffer is a goroutine-safe sink for asserting on log output.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Capture returns a JSON logger writing into a fresh Buffer.
func Capture(t *testing.T) (zerolog.Logger, *Buffer) {
	t.Helper()
	b := &Buffer{}
	return zerolog.New(b).Level(zerolog.DebugLevel), b
}
