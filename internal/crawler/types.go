// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values persisted in the task store. Transitions are
// monotonic: pending -> running -> {completed, failed}.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task represents the metadata persisted for each submitted crawl.
// EndTime is set iff the status is completed or failed.
type Task struct {
	ID           string     `json:"task_id"`
	StartURL     string     `json:"start_url"`
	Status       TaskStatus `json:"status"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// TaskRequest is the unit of work handed to the crawl engine.
type TaskRequest struct {
	TaskID   string `json:"task_id"`
	StartURL string `json:"start_url"`
	MaxPages int    `json:"max_pages"`
}

// FrontierEntry is a URL awaiting a fetch attempt within a task.
type FrontierEntry struct {
	URL   string
	Depth int
}

// Product is one extracted listing. ProductURL is the natural key;
// persisting the same ProductURL twice updates the existing row.
type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	ProductURL  string    `json:"product_url"`
	CrawlTime   time.Time `json:"crawl_time"`
}

// SiteRule holds the extraction selectors for one domain. Empty fields
// fall back to the built-in defaults.
type SiteRule struct {
	TitleSelector       string `yaml:"title_selector"`
	PriceSelector       string `yaml:"price_selector"`
	DescriptionSelector string `yaml:"description_selector"`
	ImageSelector       string `yaml:"image_selector"`
}

// Progress mirrors the per-task ledger counters. Missing counters read
// as zero.
type Progress struct {
	Processed int64
	Total     int64
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
}
