package model

import "strings"

// WorkerStatus describes whether a master can take new orders.
type WorkerStatus string

const (
	WorkerAvailable WorkerStatus = "AVAILABLE"
	WorkerBusy      WorkerStatus = "BUSY"
	WorkerOffline   WorkerStatus = "OFFLINE"
)

// Valid reports whether s is a known worker status.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerAvailable, WorkerBusy, WorkerOffline:
		return true
	}
	return false
}

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Worker is a field technician ("master") that can be offered orders.
// Rating and CompletedJobs are optional; nil means unknown.
type Worker struct {
	ID              string       `json:"id" yaml:"id"`
	Name            string       `json:"name,omitempty" yaml:"name,omitempty"`
	Location        *GeoPoint    `json:"location,omitempty" yaml:"location,omitempty"`
	Rating          *float64     `json:"rating,omitempty" yaml:"rating,omitempty"`
	CompletedJobs   *int         `json:"completed_jobs,omitempty" yaml:"completed_jobs,omitempty"`
	OnShift         bool         `json:"on_shift" yaml:"on_shift"`
	Status          WorkerStatus `json:"status" yaml:"status"`
	Specializations []string     `json:"specializations" yaml:"specializations"`
}

// Specializes reports whether the worker handles the given category.
// An empty category matches every worker.
func (w Worker) Specializes(category string) bool {
	if category == "" {
		return true
	}
	for _, s := range w.Specializations {
		if strings.EqualFold(s, category) {
			return true
		}
	}
	return false
}
