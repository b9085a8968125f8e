package domain

import (
	"strings"
	"time"
)

type Status string

const (
	Pending    Status = "PENDING"
	Processing Status = "PROCESSING"
	Complete   Status = "COMPLETE"
)

type Class string

const (
	VIP    Class = "VIP"
	Normal Class = "NORMAL"
)

// Normalize maps anything other than VIP to Normal.
func (c Class) Normalize() Class {
	if c == VIP {
		return VIP
	}
	return Normal
}

// ParseClass reads a class from user input, case-insensitively.
func ParseClass(s string) Class {
	return Class(strings.ToUpper(strings.TrimSpace(s))).Normalize()
}

// Job is a single order moving through the queue.
type Job struct {
	ID        int64     `json:"id" yaml:"id"`
	Class     Class     `json:"class" yaml:"class"`
	Status    Status    `json:"status" yaml:"status"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

func (j Job) IsPending() bool { return j.Status == Pending }
