package monitor

import "time"

type Status struct {
	Online     bool            `json:"online"`
	Components map[string]bool `json:"components"`
	LastCheck  time.Time       `json:"last_check"`
}
