package benchmark

import (
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/state"
	"github.com/TheMichaelB/drivesync/internal/synctag"
)

func benchLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, io.Discard)
}

func BenchmarkTagApply(b *testing.B) {
	content := []byte("---\ntitle: Note\n---\n\n# Heading\n\nSome body text that is long enough to matter.\n")
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		synctag.ApplyTimestamp(content, now)
	}
}

func BenchmarkTagExtract(b *testing.B) {
	content := synctag.ApplyTimestamp([]byte("# Heading\n\nbody\n"), time.Now())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		synctag.ExtractTimestamp(content)
	}
}

func BenchmarkLogAppend(b *testing.B) {
	store, err := state.NewJSONStore(filepath.Join(b.TempDir(), "pending.json"), benchLogger())
	if err != nil {
		b.Fatal(err)
	}
	log := state.NewLog(store, benchLogger())
	if err := log.Load(); err != nil {
		b.Fatal(err)
	}
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := log.Append(models.PendingSyncItem{
			Action:      models.ActionUpload,
			FileID:      fmt.Sprintf("tmp-%d", i+1),
			TimeStamp:   now,
			NewFileName: "note.md",
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLogReload(b *testing.B) {
	store, err := state.NewJSONStore(filepath.Join(b.TempDir(), "pending.json"), benchLogger())
	if err != nil {
		b.Fatal(err)
	}
	log := state.NewLog(store, benchLogger())
	if err := log.Load(); err != nil {
		b.Fatal(err)
	}
	now := time.Now()
	for i := 0; i < 500; i++ {
		err := log.Append(models.PendingSyncItem{
			Action:      models.ActionUpload,
			FileID:      fmt.Sprintf("tmp-%d", i+1),
			TimeStamp:   now,
			NewFileName: "note.md",
		})
		if err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := log.Load(); err != nil {
			b.Fatal(err)
		}
	}
}
