package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerLogrusAdapter(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger), "http_cache")

	adapter.Errorf("error %d", 1)
	adapter.Warningf("warning %d", 2)
	adapter.Infof("info %d", 3)
	adapter.Debugf("debug %d", 4)

	entries := hook.AllEntries()
	require.Len(t, entries, 4)

	levels := []logrus.Level{logrus.ErrorLevel, logrus.WarnLevel, logrus.DebugLevel, logrus.TraceLevel}
	msgs := []string{"error 1", "warning 2", "info 3", "debug 4"}
	for i, e := range entries {
		assert.Equal(t, levels[i], e.Level)
		assert.Equal(t, msgs[i], e.Message)
		assert.Equal(t, "badgerdb", e.Data["component"])
		assert.Equal(t, "http_cache", e.Data["db"])
	}
}
