package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonlift/models"
)

func TestAsyncAttemptLoggerFlushesAndAggregates(t *testing.T) {
	db := newTestDB(t)
	l := NewAsyncAttemptLogger(db, quietLogger())

	l.Record(&models.ProviderAttempt{Stage: "probe", Fingerprint: "fp1", Model: "gemini-2.5-flash", Success: false, FailureKind: "quota_exceeded", Duration: 40})
	l.Record(&models.ProviderAttempt{Stage: "probe", Fingerprint: "fp1", Model: "gemini-2.0-flash", Success: true, Duration: 60})
	l.Record(&models.ProviderAttempt{Stage: "generate", Fingerprint: "fp1", Model: "gemini-2.0-flash", Success: true, Duration: 1200})
	l.Close()
	l.Close()

	attempts, err := ListRecentAttempts(db, 10)
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
	assert.Equal(t, "generate", attempts[0].Stage)

	stats, err := ListProviderStats(db)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "gemini-2.0-flash", stats[0].ModelName)
	assert.Equal(t, int64(2), stats[0].TotalRequests)
	assert.Equal(t, 2, stats[0].Success)
	assert.Equal(t, float64(1260), stats[0].TotalLatency)
	assert.Equal(t, 1, stats[1].Error)
}

func TestAsyncAttemptLoggerPrunesOldRows(t *testing.T) {
	db := newTestDB(t)
	l := NewAsyncAttemptLogger(db, quietLogger())

	batch := make([]*models.ProviderAttempt, 0, attemptRetention+50)
	for i := 0; i < attemptRetention+50; i++ {
		batch = append(batch, &models.ProviderAttempt{
			CreatedAt: time.Now(),
			Stage:     "probe",
			Model:     fmt.Sprintf("m%d", i%3),
			Success:   true,
		})
	}
	l.flush(batch)
	l.Close()

	var count int64
	db.Model(&models.ProviderAttempt{}).Count(&count)
	assert.Equal(t, int64(attemptRetention), count)
}

func TestAsyncAttemptLoggerPruneLogsDBErrors(t *testing.T) {
	db := newTestDB(t)
	logger, hook := logrustest.NewNullLogger()
	l := NewAsyncAttemptLogger(db, logger)
	l.Close()

	require.NoError(t, db.Migrator().DropTable(&models.ProviderAttempt{}))
	l.prune()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Contains(t, entry.Message, "Failed to count attempts")
}
