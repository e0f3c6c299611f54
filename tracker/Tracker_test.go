package tracker

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symloco/symloco/storage"
)

func TestCSVLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.csv")

	logger, err := NewCSVLogger(path, 10)
	require.NoError(t, err)

	require.NoError(t, logger.Log(Record{
		Iteration:  1,
		TotalSteps: 2048,
		FPS:        1000,
		Entropy:    1.5,
		ValueLoss:  0.25,
		ActionLoss: -0.01,
		Reward:     storage.Stats{Mean: 10, Median: 9, Min: 2, Max: 20},
		Episodes:   4,
	}))
	require.NoError(t, logger.Log(Record{
		Iteration:  2,
		TotalSteps: 4096,
		Reward:     storage.Stats{Mean: 12},
		Episodes:   2,
	}))
	require.NoError(t, logger.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2048", rows[1][1])
	assert.Equal(t, "10", rows[1][6])
	assert.Equal(t, "4", rows[1][10])
}

func TestCSVLoggerRewardCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.csv")

	logger, err := NewCSVLogger(path, 1)
	require.NoError(t, err)
	defer logger.Close()

	// Iterations without completed episodes contribute no curve point
	require.NoError(t, logger.Log(Record{Iteration: 1, TotalSteps: 100}))
	require.NoError(t, logger.Log(Record{
		Iteration:  2,
		TotalSteps: 200,
		Reward:     storage.Stats{Mean: 5},
		Episodes:   1,
	}))

	steps, rewards := logger.RewardCurve()
	assert.Equal(t, []float64{200}, steps)
	assert.Equal(t, []float64{5}, rewards)
}

func TestSaveRewardCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.png")

	err := SaveRewardCurve(path, []float64{0, 100, 200},
		[]float64{1, 5, 3})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, SaveRewardCurve(path, []float64{1}, nil))
	assert.Error(t, SaveRewardCurve(path, nil, nil))
}
