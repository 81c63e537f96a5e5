package errors

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHookedLogger() (*Logger, *test.Hook) {
	base, hook := test.NewNullLogger()
	return WrapLogger(base), hook
}

func TestLogErrorIncludesAppErrorFields(t *testing.T) {
	logger, hook := newHookedLogger()

	err := New(ErrCodeSessionNotFound, "no such session").WithContext("session", "main")
	logger.LogError(err, "lookup failed")

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "lookup failed", entry.Message)
	assert.Equal(t, ErrCodeSessionNotFound, entry.Data["error_code"])
	assert.Equal(t, false, entry.Data["retryable"])
	assert.Equal(t, "main", entry.Data["session"])
}

func TestLogRetryableErrorPicksLevel(t *testing.T) {
	logger, hook := newHookedLogger()

	logger.LogRetryableError(WrapRetryable(fmt.Errorf("dial refused"), ErrCodeExternalClient, "engine down"), "engine call failed")
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	hook.Reset()
	logger.LogRetryableError(New(ErrCodeValidationFailed, "bad input"), "rejected")
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestLoggerHandlesPlainErrors(t *testing.T) {
	logger, hook := newHookedLogger()

	logger.LogWarn(fmt.Errorf("plain failure"), "something odd")

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.NotContains(t, entry.Data, "error_code")
}

func TestExtraFieldsMergeIntoEntry(t *testing.T) {
	logger, hook := newHookedLogger()

	logger.LogError(New(ErrCodeInternalError, "boom"), "failed", logrus.Fields{"attempt": 3})

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, 3, hook.LastEntry().Data["attempt"])
}
