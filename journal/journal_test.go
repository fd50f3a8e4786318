package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/conarylabs/conary/build"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := build.TempDir("journal", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "tx-abc.journal")

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	begin, _ := NewRecord(KindBegin, Begin{TxUUID: "abc", Root: "/var/lib/conary", Description: "install nginx"})
	if err := w.WriteBarrier(begin); err != nil {
		t.Fatal(err)
	}
	plan, _ := NewRecord(KindPlan, Plan{Operations: []string{"add"}, Package: "nginx", Version: "1.24.0"})
	if err := w.WriteBarrier(plan); err != nil {
		t.Fatal(err)
	}
	backup, _ := NewRecord(KindBackup, Backup{Path: "/usr/bin/nginx", BackupPath: "tx/abc/backup/usr/bin/nginx"})
	if err := w.Write(backup); err != nil {
		t.Fatal(err)
	}
	done, _ := NewRecord(KindDone, Done{Success: true})
	if err := w.WriteBarrier(done); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[0].Kind != KindBegin {
		t.Fatalf("expected first record to be Begin, got %s", records[0].Kind)
	}
	var b Begin
	if err := records[0].Decode(&b); err != nil {
		t.Fatal(err)
	}
	if b.TxUUID != "abc" {
		t.Fatalf("decoded tx_uuid mismatch: %s", b.TxUUID)
	}

	last, ok := LastBarrier(records)
	if !ok {
		t.Fatal("expected a barrier to be found")
	}
	if last.Kind != KindDone {
		t.Fatalf("expected last barrier to be Done, got %s", last.Kind)
	}
}

func TestCorruptLineStopsReading(t *testing.T) {
	dir := build.TempDir("journal", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "tx-corrupt.journal")

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	begin, _ := NewRecord(KindBegin, Begin{TxUUID: "corrupt"})
	if err := w.WriteBarrier(begin); err != nil {
		t.Fatal(err)
	}
	plan, _ := NewRecord(KindPlan, Plan{Package: "nginx"})
	if err := w.WriteBarrier(plan); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate a torn write: append a line whose JSON was cut off mid-write
	// but whose CRC (if computed at all) won't match the truncated bytes.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("deadbeef|{\"kind\":\"Prepared\",\"data\":{\"files_in\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected corrupt line to be excluded, got %d records", len(records))
	}
}

func TestBarrierClassification(t *testing.T) {
	barriers := []Kind{KindBegin, KindPlan, KindPrepared, KindPreScriptComplete,
		KindBackupsComplete, KindStagingComplete, KindFsApplied,
		KindDbCommitIntent, KindDbApplied, KindDone}
	for _, k := range barriers {
		if !k.IsBarrier() {
			t.Errorf("expected %s to be a barrier", k)
		}
	}
	nonBarriers := []Kind{KindBackup, KindStage, KindPostAction}
	for _, k := range nonBarriers {
		if k.IsBarrier() {
			t.Errorf("expected %s to not be a barrier", k)
		}
	}
}
