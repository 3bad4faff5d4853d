package job_test

import (
	"testing"
	"time"

	"github.com/relaysched/relay/job"
)

func TestJob_MissedDeadline(t *testing.T) {
	deadline := time.Now().Add(-time.Minute)
	j := &job.Job{ID: "j1", StartDeadline: &deadline}
	if !j.MissedDeadline(time.Now()) {
		t.Fatal("expected a past deadline to report missed")
	}
}

func TestJob_NoDeadlineNeverMisses(t *testing.T) {
	j := &job.Job{ID: "j1"}
	if j.MissedDeadline(time.Now().Add(24 * time.Hour)) {
		t.Fatal("expected a job with no deadline to never report missed")
	}
}

func TestJob_FutureDeadlineNotMissed(t *testing.T) {
	deadline := time.Now().Add(time.Hour)
	j := &job.Job{ID: "j1", StartDeadline: &deadline}
	if j.MissedDeadline(time.Now()) {
		t.Fatal("expected a future deadline to not report missed yet")
	}
}
