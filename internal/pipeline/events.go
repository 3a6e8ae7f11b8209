package pipeline

// Progress statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ProgressEvent reports batch progress after each file.
type ProgressEvent struct {
	Filename   string  `json:"filename"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
}

// ProgressCallback is called with progress updates during a batch
type ProgressCallback func(progress ProgressEvent)

func progressEvent(filename string, processed, total int, status string, err error) ProgressEvent {
	ev := ProgressEvent{
		Filename:  filename,
		Processed: processed,
		Total:     total,
		Status:    status,
	}
	if total > 0 {
		ev.Percentage = float64(processed) / float64(total) * 100
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
