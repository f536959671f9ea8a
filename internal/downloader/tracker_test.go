package downloader

import (
	"errors"
	"sync"
	"testing"
)

// candidate 以 id 派生互不相同的文件名
func candidate(id RequestID, declared int64, stat FileStat) Candidate {
	name := "/downloads/" + idSuffix(id) + ".mkv"
	return Candidate{ID: id, DeclaredSize: declared, Path: name, Stat: stat, AltPath: name + ".alt"}
}

func admitReason(tracker *Tracker, id RequestID, declared int64, stat FileStat) Reason {
	return tracker.TryAdmit(candidate(id, declared, stat)).Reason
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		entry    *trackEntry
		declared int64
		stat     FileStat
		want     Reason
	}{
		{name: "unknown and missing", want: ""},
		{name: "admitted", entry: &trackEntry{state: StateAdmitted}, want: ReasonAlreadyInFlight},
		{name: "in progress", entry: &trackEntry{state: StateInProgress}, want: ReasonAlreadyInFlight},
		{
			name:  "completed and present",
			entry: &trackEntry{state: StateCompleted, size: 10},
			stat:  FileStat{Exists: true, Size: 10},
			want:  ReasonAlreadyDownloaded,
		},
		{
			name:  "completed but removed",
			entry: &trackEntry{state: StateCompleted, size: 10},
			want:  "",
		},
		{
			name:  "completed but truncated",
			entry: &trackEntry{state: StateCompleted, size: 10},
			stat:  FileStat{Exists: true, Size: 4},
			want:  "",
		},
		{
			name:     "untracked complete file",
			declared: 10,
			stat:     FileStat{Exists: true, Size: 10},
			want:     ReasonAlreadyDownloaded,
		},
		{
			name:     "untracked partial file",
			declared: 10,
			stat:     FileStat{Exists: true, Size: 3},
			want:     "",
		},
		{
			name: "untracked file with unknown size",
			stat: FileStat{Exists: true, Size: 3},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decide(tt.entry, tt.declared, tt.stat); got != tt.want {
				t.Fatalf("decide() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tracker := NewTracker()
	id := RequestID{ChatID: 100, MessageID: 1}

	if reason := admitReason(tracker, id, 10, FileStat{}); reason != "" {
		t.Fatalf("first admit rejected: %s", reason)
	}
	if reason := admitReason(tracker, id, 10, FileStat{}); reason != ReasonAlreadyInFlight {
		t.Fatalf("second admit = %q, want %s", reason, ReasonAlreadyInFlight)
	}

	if err := tracker.MarkInProgress(id); err != nil {
		t.Fatalf("MarkInProgress() error = %v", err)
	}
	if err := tracker.MarkInProgress(id); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkInProgress() twice error = %v, want ErrInvalidTransition", err)
	}

	tracker.MarkCompleted(id, 10)
	if state, _ := tracker.Lookup(id); state != StateCompleted {
		t.Fatalf("state = %s, want completed", state)
	}
	if reason := admitReason(tracker, id, 10, FileStat{Exists: true, Size: 10}); reason != ReasonAlreadyDownloaded {
		t.Fatalf("admit after completion = %q, want %s", reason, ReasonAlreadyDownloaded)
	}
	if reason := admitReason(tracker, id, 10, FileStat{}); reason != "" {
		t.Fatalf("admit after file removal = %q, want admitted", reason)
	}

	if err := tracker.MarkInProgress(id); err != nil {
		t.Fatalf("MarkInProgress() error = %v", err)
	}
	tracker.MarkFailed(id)
	if _, ok := tracker.Lookup(id); ok {
		t.Fatalf("failed request must be dropped from the tracker")
	}
	if reason := admitReason(tracker, id, 10, FileStat{}); reason != "" {
		t.Fatalf("admit after failure = %q, want admitted", reason)
	}

	stats := tracker.Stats()
	if stats.Completed != 1 || stats.Failed != 1 || stats.Tracked != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTrackerAdmitBatchDuplicateIDs(t *testing.T) {
	tracker := NewTracker()
	id := RequestID{ChatID: 1, MessageID: 2}

	c := candidate(id, 0, FileStat{})
	results := tracker.AdmitBatch([]Candidate{c, c})
	if results[0].Reason != "" || results[1].Reason != ReasonAlreadyInFlight {
		t.Fatalf("AdmitBatch() = %+v", results)
	}
}

func TestTrackerReleaseAndRestore(t *testing.T) {
	tracker := NewTracker()
	id := RequestID{ChatID: 1, MessageID: 2}

	admitReason(tracker, id, 0, FileStat{})
	tracker.Release(id)
	if _, ok := tracker.Lookup(id); ok {
		t.Fatalf("released request still tracked")
	}

	tracker.Restore(id, 42, "")
	if reason := admitReason(tracker, id, 42, FileStat{Exists: true, Size: 42}); reason != ReasonAlreadyDownloaded {
		t.Fatalf("admit after restore = %q, want %s", reason, ReasonAlreadyDownloaded)
	}

	// 进行中的请求不会被恢复记录覆盖
	other := RequestID{ChatID: 1, MessageID: 3}
	admitReason(tracker, other, 0, FileStat{})
	tracker.Restore(other, 5, "")
	if state, _ := tracker.Lookup(other); state != StateAdmitted {
		t.Fatalf("restore overwrote in-flight state: %s", state)
	}
}

func TestTrackerConcurrentAdmit(t *testing.T) {
	tracker := NewTracker()
	id := RequestID{ChatID: 100, MessageID: 7}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if admitReason(tracker, id, 10, FileStat{}) == "" {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("expected exactly one admission, got %d", admitted)
	}
}

func TestTrackerSharedPathGetsAlternate(t *testing.T) {
	tracker := NewTracker()
	first := RequestID{ChatID: 100, MessageID: 1}
	second := RequestID{ChatID: 100, MessageID: 2}
	shared := func(id RequestID) Candidate {
		return Candidate{
			ID:      id,
			Path:    "/downloads/episode.mkv",
			AltPath: "/downloads/episode (" + idSuffix(id) + ").mkv",
		}
	}

	results := tracker.AdmitBatch([]Candidate{shared(first), shared(second)})
	if results[0].Path != "/downloads/episode.mkv" || results[0].Reason != "" {
		t.Fatalf("first = %+v", results[0])
	}
	if results[1].Path != "/downloads/episode (100_2_0).mkv" || results[1].Reason != "" {
		t.Fatalf("second = %+v", results[1])
	}

	// 完成后再次触发另一个 id，同名路径仍属于第一个请求
	tracker.MarkInProgress(first)
	tracker.MarkCompleted(first, 100)
	third := RequestID{ChatID: 100, MessageID: 3}
	if got := tracker.TryAdmit(shared(third)); got.Path != "/downloads/episode (100_3_0).mkv" {
		t.Fatalf("third = %+v", got)
	}
}

func TestTrackerResumableOnlyForOwner(t *testing.T) {
	tracker := NewTracker()
	id := RequestID{ChatID: 100, MessageID: 1}
	c := candidate(id, 100, FileStat{})

	if got := tracker.TryAdmit(c); got.Resumable {
		t.Fatalf("first admission must not resume: %+v", got)
	}
	tracker.MarkInProgress(id)
	tracker.MarkFailed(id)

	// 失败后路径仍归原请求，部分文件可续传
	c.Stat = FileStat{Exists: true, Size: 40}
	got := tracker.TryAdmit(c)
	if got.Reason != "" || !got.Resumable || got.Path != c.Path {
		t.Fatalf("retry = %+v, want resumable admission on %s", got, c.Path)
	}
}

func TestTrackerRestoreClaimsPath(t *testing.T) {
	tracker := NewTracker()
	restored := RequestID{ChatID: 100, MessageID: 1}
	tracker.Restore(restored, 10, "/downloads/movie.mkv")

	other := RequestID{ChatID: 200, MessageID: 1}
	got := tracker.TryAdmit(Candidate{ID: other, Path: "/downloads/movie.mkv", AltPath: "/downloads/movie (200_1_0).mkv"})
	if got.Path != "/downloads/movie (200_1_0).mkv" {
		t.Fatalf("admission = %+v, want alternate path", got)
	}
}
