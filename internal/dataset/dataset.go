// Package dataset is the append-only columnar container backing the data
// writer sink: one directory per protocol run, one parquet file per task.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	parquetWriter "github.com/xitongsys/parquet-go/writer"

	"github.com/reyer-project/reyer-rt/internal/core"
)

// SampleRow is the flattened, parquet-tagged on-disk shape of one
// core.EyeSample. Both trackers are spelled out as scalar columns because
// parquet-go's struct-tag schema has no native support for the nested
// Tracker type.
type SampleRow struct {
	Timestamp int64 `parquet:"name=timestamp, type=INT64"`

	LeftP1X            float64 `parquet:"name=left_p1_x, type=DOUBLE"`
	LeftP1Y            float64 `parquet:"name=left_p1_y, type=DOUBLE"`
	LeftP4X            float64 `parquet:"name=left_p4_x, type=DOUBLE"`
	LeftP4Y            float64 `parquet:"name=left_p4_y, type=DOUBLE"`
	LeftPupilCenterX   float64 `parquet:"name=left_pupil_center_x, type=DOUBLE"`
	LeftPupilCenterY   float64 `parquet:"name=left_pupil_center_y, type=DOUBLE"`
	LeftPupilDiameter  float64 `parquet:"name=left_pupil_diameter, type=DOUBLE"`
	LeftGazeRawX       float64 `parquet:"name=left_gaze_raw_x, type=DOUBLE"`
	LeftGazeRawY       float64 `parquet:"name=left_gaze_raw_y, type=DOUBLE"`
	LeftGazeFilteredX  float64 `parquet:"name=left_gaze_filtered_x, type=DOUBLE"`
	LeftGazeFilteredY  float64 `parquet:"name=left_gaze_filtered_y, type=DOUBLE"`
	LeftGazeVelocityX  float64 `parquet:"name=left_gaze_velocity_x, type=DOUBLE"`
	LeftGazeVelocityY  float64 `parquet:"name=left_gaze_velocity_y, type=DOUBLE"`
	LeftIsBlink        bool    `parquet:"name=left_is_blink, type=BOOLEAN"`
	LeftIsValid        bool    `parquet:"name=left_is_valid, type=BOOLEAN"`

	RightP1X            float64 `parquet:"name=right_p1_x, type=DOUBLE"`
	RightP1Y            float64 `parquet:"name=right_p1_y, type=DOUBLE"`
	RightP4X            float64 `parquet:"name=right_p4_x, type=DOUBLE"`
	RightP4Y            float64 `parquet:"name=right_p4_y, type=DOUBLE"`
	RightPupilCenterX   float64 `parquet:"name=right_pupil_center_x, type=DOUBLE"`
	RightPupilCenterY   float64 `parquet:"name=right_pupil_center_y, type=DOUBLE"`
	RightPupilDiameter  float64 `parquet:"name=right_pupil_diameter, type=DOUBLE"`
	RightGazeRawX       float64 `parquet:"name=right_gaze_raw_x, type=DOUBLE"`
	RightGazeRawY       float64 `parquet:"name=right_gaze_raw_y, type=DOUBLE"`
	RightGazeFilteredX  float64 `parquet:"name=right_gaze_filtered_x, type=DOUBLE"`
	RightGazeFilteredY  float64 `parquet:"name=right_gaze_filtered_y, type=DOUBLE"`
	RightGazeVelocityX  float64 `parquet:"name=right_gaze_velocity_x, type=DOUBLE"`
	RightGazeVelocityY  float64 `parquet:"name=right_gaze_velocity_y, type=DOUBLE"`
	RightIsBlink        bool    `parquet:"name=right_is_blink, type=BOOLEAN"`
	RightIsValid        bool    `parquet:"name=right_is_valid, type=BOOLEAN"`
}

// RowFromSample flattens a core.EyeSample into its on-disk row shape.
func RowFromSample(s core.EyeSample) SampleRow {
	return SampleRow{
		Timestamp: int64(s.Timestamp),

		LeftP1X: s.Left.Dpi.P1.X, LeftP1Y: s.Left.Dpi.P1.Y,
		LeftP4X: s.Left.Dpi.P4.X, LeftP4Y: s.Left.Dpi.P4.Y,
		LeftPupilCenterX: s.Left.Dpi.PupilCenter.X, LeftPupilCenterY: s.Left.Dpi.PupilCenter.Y,
		LeftPupilDiameter: s.Left.Dpi.PupilDiameter,
		LeftGazeRawX: s.Left.Gaze.Raw.X, LeftGazeRawY: s.Left.Gaze.Raw.Y,
		LeftGazeFilteredX: s.Left.Gaze.Filtered.X, LeftGazeFilteredY: s.Left.Gaze.Filtered.Y,
		LeftGazeVelocityX: s.Left.Gaze.Velocity.X, LeftGazeVelocityY: s.Left.Gaze.Velocity.Y,
		LeftIsBlink: s.Left.IsBlink, LeftIsValid: s.Left.IsValid,

		RightP1X: s.Right.Dpi.P1.X, RightP1Y: s.Right.Dpi.P1.Y,
		RightP4X: s.Right.Dpi.P4.X, RightP4Y: s.Right.Dpi.P4.Y,
		RightPupilCenterX: s.Right.Dpi.PupilCenter.X, RightPupilCenterY: s.Right.Dpi.PupilCenter.Y,
		RightPupilDiameter: s.Right.Dpi.PupilDiameter,
		RightGazeRawX: s.Right.Gaze.Raw.X, RightGazeRawY: s.Right.Gaze.Raw.Y,
		RightGazeFilteredX: s.Right.Gaze.Filtered.X, RightGazeFilteredY: s.Right.Gaze.Filtered.Y,
		RightGazeVelocityX: s.Right.Gaze.Velocity.X, RightGazeVelocityY: s.Right.Gaze.Velocity.Y,
		RightIsBlink: s.Right.IsBlink, RightIsValid: s.Right.IsValid,
	}
}

// Run is the open, append-only on-disk representation of one protocol run:
// a directory named after its UUID, holding one parquet file per task.
type Run struct {
	dir string

	mu      sync.Mutex
	writers map[int]*parquetWriter.ParquetWriter
	files   map[int]*os.File
}

// CreateRun creates the run directory (baseDir/{uuid}/) for a freshly
// started protocol.
func CreateRun(baseDir, protocolUUID string) (*Run, error) {
	dir := filepath.Join(baseDir, protocolUUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset run directory: %w", err)
	}
	return &Run{
		dir:     dir,
		writers: make(map[int]*parquetWriter.ParquetWriter),
		files:   make(map[int]*os.File),
	}, nil
}

// Path returns the run's directory.
func (r *Run) Path() string { return r.dir }

// OpenTask creates task_{index:03d}.parquet and opens a writer for it. The
// file exists with a valid schema even if WriteSample is never called.
func (r *Run) OpenTask(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, fmt.Sprintf("task_%03d.parquet", index))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	pw, err := parquetWriter.NewParquetWriterFromWriter(f, new(SampleRow), 1)
	if err != nil {
		f.Close()
		return fmt.Errorf("new parquet writer for %s: %w", path, err)
	}
	r.writers[index] = pw
	r.files[index] = f
	return nil
}

// WriteSample appends one row to the given task's file.
func (r *Run) WriteSample(index int, s core.EyeSample) error {
	r.mu.Lock()
	pw, ok := r.writers[index]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("dataset: task %d has no open writer", index)
	}
	return pw.Write(RowFromSample(s))
}

// CloseTask flushes and closes the given task's file.
func (r *Run) CloseTask(index int) error {
	r.mu.Lock()
	pw, ok := r.writers[index]
	f := r.files[index]
	delete(r.writers, index)
	delete(r.files, index)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := pw.WriteStop(); err != nil {
		f.Close()
		return fmt.Errorf("write stop: %w", err)
	}
	return f.Close()
}

// Close closes any tasks still open, best-effort.
func (r *Run) Close() error {
	r.mu.Lock()
	indexes := make([]int, 0, len(r.writers))
	for idx := range r.writers {
		indexes = append(indexes, idx)
	}
	r.mu.Unlock()

	var firstErr error
	for _, idx := range indexes {
		if err := r.CloseTask(idx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
