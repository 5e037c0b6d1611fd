package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func useObserved(t *testing.T, enabled map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	Use(zap.New(core), enabled)
	t.Cleanup(func() { Use(nil, nil) })
	return logs
}

func TestCategoryHelpers_WriteNamedEntries(t *testing.T) {
	logs := useObserved(t, nil)

	Perception("gateway call model=%s", "gpt-4o-mini")
	NodeError("request %d failed", 7)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "perception", entries[0].LoggerName)
	assert.Equal(t, "gateway call model=gpt-4o-mini", entries[0].Message)
	assert.Equal(t, "node", entries[1].LoggerName)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}

func TestDisabledCategory_IsNoop(t *testing.T) {
	logs := useObserved(t, map[string]bool{"parser": false})

	ParserDebug("dropped %q", "flyaway")
	BusDebug("subscribed")

	assert.False(t, IsCategoryEnabled(CategoryParser))
	assert.True(t, IsCategoryEnabled(CategoryBus))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "bus", logs.All()[0].LoggerName)
}

func TestZeroLogger_IsNoop(t *testing.T) {
	var l Logger
	l.Info("nothing %d", 1)
	l.Error("nothing")
	assert.Same(t, &l, l.With("k", "v"))
}

func TestWith_AddsFields(t *testing.T) {
	logs := useObserved(t, nil)

	Get(CategoryNode).With("request_id", "abc").Info("published")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "abc", logs.All()[0].ContextMap()["request_id"])
}

func TestInitialize_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pupper.log")
	t.Cleanup(func() { Use(nil, nil) })

	l, err := Initialize(Config{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	Boot("started %s", "pupper")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"logger":"boot"`), string(data))
	assert.True(t, strings.Contains(string(data), "started pupper"))
}

func TestInitialize_RejectsBadConfig(t *testing.T) {
	t.Cleanup(func() { Use(nil, nil) })

	_, err := Initialize(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = Initialize(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestConcurrentGet(t *testing.T) {
	useObserved(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := AllCategories[i%len(AllCategories)]
			Get(c).Debug("message %d", i)
		}(i)
	}
	wg.Wait()
}

func TestBootAndAPIHelpers(t *testing.T) {
	logs := useObserved(t, nil)

	BootDebug("gateway: timeout=%v", "30s")
	BootWarn("admin server disabled")
	API("admin server listening on %s", "127.0.0.1:9090")
	Sync()

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "boot", entries[0].LoggerName)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "api", entries[2].LoggerName)
	assert.Equal(t, "admin server listening on 127.0.0.1:9090", entries[2].Message)
}

func TestBase_FollowsUse(t *testing.T) {
	logs := useObserved(t, nil)

	Base().Named("gateway").Info("structured")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "gateway", logs.All()[0].LoggerName)

	Use(nil, nil)
	assert.NotNil(t, Base())
}
