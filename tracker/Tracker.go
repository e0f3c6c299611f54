// Package tracker records training progress. A CSVLogger appends one
// row per training iteration to a CSV file and periodically echoes a
// human-readable summary to standard output.
package tracker

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/symloco/symloco/storage"
)

// Record summarizes one training iteration
type Record struct {
	Iteration  int
	TotalSteps int
	FPS        float64

	Entropy    float64
	ValueLoss  float64
	ActionLoss float64

	// Reward summarizes the recent completed-episode returns
	Reward   storage.Stats
	Episodes int
}

var header = []string{"iteration", "total_steps", "fps", "entropy",
	"value_loss", "action_loss", "reward_mean", "reward_median",
	"reward_min", "reward_max", "episodes"}

// CSVLogger writes training records to a CSV file as they arrive and
// echoes a summary line to stdout every logInterval iterations.
type CSVLogger struct {
	file        *os.File
	writer      *csv.Writer
	logInterval int

	// Accumulated (step, mean reward) pairs for the reward curve
	steps   []float64
	rewards []float64
}

// NewCSVLogger creates a CSVLogger writing to the file at path,
// truncating any existing file and writing the header row.
func NewCSVLogger(path string, logInterval int) (*CSVLogger, error) {
	if logInterval < 1 {
		return nil, fmt.Errorf("newcsvlogger: log interval must be "+
			"positive \n\thave(%v)", logInterval)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("newcsvlogger: could not create log file: %v",
			err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("newcsvlogger: could not write header: %v",
			err)
	}
	writer.Flush()

	return &CSVLogger{file: file, writer: writer,
		logInterval: logInterval}, nil
}

// Log records one training iteration, flushing it to disk
// immediately so that a crashed run keeps its history.
func (c *CSVLogger) Log(rec Record) error {
	row := []string{
		strconv.Itoa(rec.Iteration),
		strconv.Itoa(rec.TotalSteps),
		formatFloat(rec.FPS),
		formatFloat(rec.Entropy),
		formatFloat(rec.ValueLoss),
		formatFloat(rec.ActionLoss),
		formatFloat(rec.Reward.Mean),
		formatFloat(rec.Reward.Median),
		formatFloat(rec.Reward.Min),
		formatFloat(rec.Reward.Max),
		strconv.Itoa(rec.Episodes),
	}
	if err := c.writer.Write(row); err != nil {
		return fmt.Errorf("log: could not write record: %v", err)
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return fmt.Errorf("log: could not flush record: %v", err)
	}

	if rec.Episodes > 0 {
		c.steps = append(c.steps, float64(rec.TotalSteps))
		c.rewards = append(c.rewards, rec.Reward.Mean)
	}

	if rec.Iteration%c.logInterval == 0 {
		fmt.Printf("iteration %v | steps %v | fps %.0f | "+
			"reward %.1f (min %.1f, max %.1f) over %v episodes | "+
			"entropy %.4f | value loss %.4f | action loss %.4f\n",
			rec.Iteration, rec.TotalSteps, rec.FPS, rec.Reward.Mean,
			rec.Reward.Min, rec.Reward.Max, rec.Episodes, rec.Entropy,
			rec.ValueLoss, rec.ActionLoss)
	}
	return nil
}

// RewardCurve returns the accumulated (total steps, mean reward)
// series logged so far.
func (c *CSVLogger) RewardCurve() (steps, rewards []float64) {
	return c.steps, c.rewards
}

// Close flushes and closes the underlying file
func (c *CSVLogger) Close() error {
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		c.file.Close()
		return fmt.Errorf("close: could not flush records: %v", err)
	}
	return c.file.Close()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
