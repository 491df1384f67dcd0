package job

import "fmt"

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelling  Status = "cancelling"
	StatusCancelled   Status = "cancelled"
)

var allowedTransitions = map[Status]map[Status]bool{
	"": {
		StatusQueued:    true,
		StatusCompleted: true,
	},
	StatusQueued: {
		StatusQueued:      true,
		StatusDownloading: true,
		StatusProcessing:  true,
		StatusCompleted:   true,
		StatusError:       true,
		StatusCancelling:  true,
		StatusCancelled:   true,
	},
	StatusDownloading: {
		StatusDownloading: true,
		StatusProcessing:  true,
		StatusCompleted:   true,
		StatusError:       true,
		StatusCancelling:  true,
		StatusCancelled:   true,
	},
	StatusProcessing: {
		StatusProcessing:  true,
		StatusDownloading: true, // multi-item posts alternate per item
		StatusCompleted:   true,
		StatusError:       true,
		StatusCancelling:  true,
		StatusCancelled:   true,
	},
	StatusCancelling: {
		StatusCancelling: true,
		StatusCancelled:  true,
		StatusCompleted:  true, // finished before the cancel landed
	},
	StatusCompleted: {
		StatusCompleted: true,
	},
	StatusError: {
		StatusError: true,
	},
	StatusCancelled: {
		StatusCancelled: true,
	},
}

// IsKnownStatus reports whether status is part of the lifecycle.
func IsKnownStatus(status Status) bool {
	_, ok := allowedTransitions[status]
	return ok && status != ""
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionJobStatus moves job to status or reports why it cannot.
func TransitionJobStatus(job *Job, status Status) error {
	from := job.Status
	if !CanTransition(from, status) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s)", from, status, job.ID)
	}
	job.Status = status
	return nil
}

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Active reports whether the worker is still working on the job.
func (s Status) Active() bool {
	return IsKnownStatus(s) && !s.Terminal()
}

func (s Status) String() string {
	return string(s)
}
