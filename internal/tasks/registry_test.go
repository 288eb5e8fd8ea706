package tasks

import (
	"sync"
	"testing"
	"time"

	"podpulse/internal/models"
)

// capturePublisher records every published record in order.
type capturePublisher struct {
	recs []*models.TaskRecord
}

func (p *capturePublisher) Publish(userID int64, rec *models.TaskRecord) {
	p.recs = append(p.recs, rec)
}

func TestRegistryCreate(t *testing.T) {
	pub := &capturePublisher{}
	reg := NewRegistry(pub)

	item := "42"
	rec := reg.Create(7, models.TaskTypePodcastDownload, &item)

	if rec.TaskID == "" {
		t.Fatal("Create returned empty task id")
	}
	if rec.Status != models.StatusPending {
		t.Errorf("status = %s, want %s", rec.Status, models.StatusPending)
	}
	if rec.Progress != 0 {
		t.Errorf("progress = %f, want 0", rec.Progress)
	}
	if rec.StartedAt.IsZero() {
		t.Error("started_at not set")
	}
	if len(pub.recs) != 1 {
		t.Fatalf("published %d records, want 1", len(pub.recs))
	}

	snapshot := reg.SnapshotForUser(7)
	if len(snapshot) != 1 {
		t.Fatalf("snapshot has %d records, want 1", len(snapshot))
	}
	if snapshot[0].TaskID != rec.TaskID {
		t.Errorf("snapshot task id = %s, want %s", snapshot[0].TaskID, rec.TaskID)
	}
}

func TestRegistryUpdateMergesDetails(t *testing.T) {
	reg := NewRegistry(nil)
	rec := reg.Create(1, models.TaskTypePodcastDownload, nil)

	reg.Update(rec.TaskID, models.StatusDownloading, 10, map[string]string{
		"episode_title": "Ep 1",
		"source":        "feed",
	})
	reg.Update(rec.TaskID, models.StatusDownloading, 50, map[string]string{
		"source": "cdn",
	})

	got := reg.SnapshotForUser(1)[0]
	if got.Details["episode_title"] != "Ep 1" {
		t.Errorf("absent key was touched: episode_title = %q", got.Details["episode_title"])
	}
	if got.Details["source"] != "cdn" {
		t.Errorf("existing key not overwritten: source = %q", got.Details["source"])
	}
	if got.Progress != 50 {
		t.Errorf("progress = %f, want 50", got.Progress)
	}
}

func TestRegistryCompletedAtSetOnce(t *testing.T) {
	reg := NewRegistry(nil)
	rec := reg.Create(1, models.TaskTypeFeedRefresh, nil)

	reg.Update(rec.TaskID, models.StatusSuccess, 100, nil)
	first := reg.SnapshotForUser(1)[0].CompletedAt
	if first == nil {
		t.Fatal("completed_at not set on terminal transition")
	}

	// A stray update after the terminal one must not move or clear it
	reg.Update(rec.TaskID, models.StatusSuccess, 100, nil)
	second := reg.SnapshotForUser(1)[0].CompletedAt
	if second == nil {
		t.Fatal("completed_at cleared by repeat update")
	}
	if !second.Equal(*first) {
		t.Errorf("completed_at moved from %v to %v", first, second)
	}
}

func TestRegistryUpdateUnknownTaskIsNoOp(t *testing.T) {
	pub := &capturePublisher{}
	reg := NewRegistry(pub)

	reg.Update("no-such-task", models.StatusSuccess, 100, nil)

	if len(pub.recs) != 0 {
		t.Errorf("published %d records for unknown task, want 0", len(pub.recs))
	}
}

func TestRegistryProgressClamped(t *testing.T) {
	reg := NewRegistry(nil)
	rec := reg.Create(1, models.TaskTypePodcastDownload, nil)

	reg.Update(rec.TaskID, models.StatusDownloading, 150, nil)
	if got := reg.SnapshotForUser(1)[0].Progress; got != 100 {
		t.Errorf("progress = %f, want 100", got)
	}

	reg.Update(rec.TaskID, models.StatusDownloading, -5, nil)
	if got := reg.SnapshotForUser(1)[0].Progress; got != 0 {
		t.Errorf("progress = %f, want 0", got)
	}
}

func TestRegistrySweepExpiresTerminalOnly(t *testing.T) {
	reg := NewRegistry(nil)
	now := time.Now()
	reg.now = func() time.Time { return now }

	done := reg.Create(1, models.TaskTypePodcastDownload, nil)
	reg.Update(done.TaskID, models.StatusSuccess, 100, nil)
	running := reg.Create(1, models.TaskTypeFeedRefresh, nil)

	// Inside the retention window nothing expires
	now = now.Add(DefaultRetention - time.Second)
	reg.Sweep()
	if got := len(reg.SnapshotForUser(1)); got != 2 {
		t.Fatalf("snapshot has %d records before retention cutoff, want 2", got)
	}

	// Past the window only the terminal record goes
	now = now.Add(2 * time.Second)
	reg.Sweep()
	snapshot := reg.SnapshotForUser(1)
	if len(snapshot) != 1 {
		t.Fatalf("snapshot has %d records after retention cutoff, want 1", len(snapshot))
	}
	if snapshot[0].TaskID != running.TaskID {
		t.Errorf("surviving task = %s, want the non-terminal %s", snapshot[0].TaskID, running.TaskID)
	}
}

func TestRegistryRetentionChangeWhileSweeping(t *testing.T) {
	reg := NewRegistry(nil)

	done := reg.Create(1, models.TaskTypePodcastDownload, nil)
	reg.Update(done.TaskID, models.StatusSuccess, 100, nil)

	// Sweeps and retention changes race without corrupting state; run with
	// -race to check the synchronization.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			reg.Sweep()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			reg.SetRetention(time.Duration(i+1) * time.Hour)
		}
	}()
	wg.Wait()

	// The shrunk window takes effect on the next sweep
	reg.SetRetention(0)
	reg.Sweep()
	if got := len(reg.SnapshotForUser(1)); got != 0 {
		t.Errorf("snapshot has %d records after zero retention sweep, want 0", got)
	}
}

func TestRegistryPerTaskPublishOrder(t *testing.T) {
	pub := &capturePublisher{}
	reg := NewRegistry(pub)

	rec := reg.Create(1, models.TaskTypePodcastDownload, nil)
	reg.Update(rec.TaskID, models.StatusDownloading, 25, nil)
	reg.Update(rec.TaskID, models.StatusDownloading, 75, nil)
	reg.Update(rec.TaskID, models.StatusSuccess, 100, nil)

	want := []float64{0, 25, 75, 100}
	if len(pub.recs) != len(want) {
		t.Fatalf("published %d records, want %d", len(pub.recs), len(want))
	}
	for i, w := range want {
		if pub.recs[i].Progress != w {
			t.Errorf("publish %d: progress = %f, want %f", i, pub.recs[i].Progress, w)
		}
	}
}
