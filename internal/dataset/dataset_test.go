package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/reyer-project/reyer-rt/internal/core"
)

// parquetMagic is the 4-byte magic string every valid parquet file starts
// and ends with (PAR1), independent of schema or row count.
const parquetMagic = "PAR1"

func assertIsParquetFile(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	if len(data) < 8 {
		t.Fatalf("%s is too short to be a parquet file (%d bytes)", path, len(data))
	}
	if string(data[:4]) != parquetMagic {
		t.Fatalf("%s header = %q, want %q", path, data[:4], parquetMagic)
	}
	if string(data[len(data)-4:]) != parquetMagic {
		t.Fatalf("%s footer = %q, want %q", path, data[len(data)-4:], parquetMagic)
	}
}

func TestCreateRun_MakesDirectory(t *testing.T) {
	base := t.TempDir()
	run, err := CreateRun(base, "11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Path() != filepath.Join(base, "11111111-1111-1111-1111-111111111111") {
		t.Fatalf("Path() = %q", run.Path())
	}
	if info, err := os.Stat(run.Path()); err != nil || !info.IsDir() {
		t.Fatalf("run directory was not created: %v", err)
	}
}

func TestRun_OpenWriteCloseTask(t *testing.T) {
	base := t.TempDir()
	run, err := CreateRun(base, "22222222-2222-2222-2222-222222222222")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := run.OpenTask(0); err != nil {
		t.Fatalf("OpenTask: %v", err)
	}

	sample := core.EyeSample{Timestamp: 1000}
	sample.Left.IsValid = true
	sample.Right.IsValid = true
	for i := 0; i < 5; i++ {
		if err := run.WriteSample(0, sample); err != nil {
			t.Fatalf("WriteSample: %v", err)
		}
	}

	if err := run.CloseTask(0); err != nil {
		t.Fatalf("CloseTask: %v", err)
	}

	assertIsParquetFile(t, filepath.Join(run.Path(), "task_000.parquet"))
}

func TestRun_ZeroRowTaskStillProducesValidFile(t *testing.T) {
	base := t.TempDir()
	run, err := CreateRun(base, "33333333-3333-3333-3333-333333333333")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := run.OpenTask(2); err != nil {
		t.Fatalf("OpenTask: %v", err)
	}
	if err := run.CloseTask(2); err != nil {
		t.Fatalf("CloseTask: %v", err)
	}

	assertIsParquetFile(t, filepath.Join(run.Path(), "task_002.parquet"))
}

func TestRun_WriteSample_UnknownTask(t *testing.T) {
	base := t.TempDir()
	run, err := CreateRun(base, "44444444-4444-4444-4444-444444444444")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := run.WriteSample(7, core.EyeSample{}); err == nil {
		t.Fatalf("expected an error writing to a task that was never opened")
	}
}

func TestRun_Close_ClosesAllOutstandingTasks(t *testing.T) {
	base := t.TempDir()
	run, err := CreateRun(base, "55555555-5555-5555-5555-555555555555")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := run.OpenTask(i); err != nil {
			t.Fatalf("OpenTask(%d): %v", i, err)
		}
	}

	if err := run.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i := 0; i < 3; i++ {
		assertIsParquetFile(t, filepath.Join(run.Path(), fmt.Sprintf("task_%03d.parquet", i)))
	}
}
