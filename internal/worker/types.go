package worker

import "time"

// Info is the metadata the worker resolves for a source URL.
type Info struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	ChannelID        string  `json:"channel_id"`
	Duration         float64 `json:"duration"`
	ReleaseTimestamp *int64  `json:"release_timestamp"`
}

// ReleasedAt returns the release time, or fallback when the worker did not
// report one.
func (i *Info) ReleasedAt(fallback time.Time) time.Time {
	if i.ReleaseTimestamp == nil || *i.ReleaseTimestamp <= 0 {
		return fallback
	}
	return time.Unix(*i.ReleaseTimestamp, 0).UTC()
}

// Snapshot is a point-in-time view of the worker job queue.
type Snapshot struct {
	Queued    []string
	Running   []string
	Failed    []string
	Completed []CompletedJob
}

// CompletedJob is a finished worker job and the files it produced.
type CompletedJob struct {
	ID    string
	Files []string
}

// IsPending reports whether the job is queued or running.
func (s Snapshot) IsPending(jobID string) bool {
	return contains(s.Queued, jobID) || contains(s.Running, jobID)
}

// IsFailed reports whether the job is in the failed registry.
func (s Snapshot) IsFailed(jobID string) bool {
	return contains(s.Failed, jobID)
}

// CompletedJob returns the finished entry for jobID, if any.
func (s Snapshot) CompletedJob(jobID string) (CompletedJob, bool) {
	for _, c := range s.Completed {
		if c.ID == jobID {
			return c, true
		}
	}
	return CompletedJob{}, false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// downloadResponse is the payload of GET /download.
type downloadResponse struct {
	StatusCode int `json:"status_code"`
	Downloads  []struct {
		RedisID string `json:"_redis_id"`
	} `json:"downloads"`
	Error string `json:"error,omitempty"`
}

// queueEntry is one job in a queue registry of GET /queue.
type queueEntry struct {
	ID  string `json:"id"`
	Job struct {
		Meta struct {
			DownloadedFiles []struct {
				Filename string `json:"filename"`
			} `json:"downloaded_files"`
		} `json:"meta"`
	} `json:"job"`
}

// queueResponse is the payload of GET /queue.
type queueResponse struct {
	QueuedJob   []queueEntry `json:"queued_job"`
	StartedJob  []queueEntry `json:"started_job"`
	FinishedJob []queueEntry `json:"finished_job"`
	FailedJob   []queueEntry `json:"failed_job"`
}

func (q queueResponse) snapshot() Snapshot {
	ids := func(entries []queueEntry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	snap := Snapshot{
		Queued:    ids(q.QueuedJob),
		Running:   ids(q.StartedJob),
		Failed:    ids(q.FailedJob),
		Completed: make([]CompletedJob, 0, len(q.FinishedJob)),
	}
	for _, e := range q.FinishedJob {
		files := make([]string, 0, len(e.Job.Meta.DownloadedFiles))
		for _, f := range e.Job.Meta.DownloadedFiles {
			files = append(files, f.Filename)
		}
		snap.Completed = append(snap.Completed, CompletedJob{ID: e.ID, Files: files})
	}
	return snap
}
