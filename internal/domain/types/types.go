// Package types contains read shapes shared by the API and the CLI.
package types

// Entry is one ranked candidate as displayed to users.
type Entry struct {
	Rank        int     `json:"rank"`
	HerbID      string  `json:"herb_id"`
	Name        string  `json:"name"`
	Confidence  float64 `json:"confidence"`
	Known       bool    `json:"known"`
	Substituted bool    `json:"substituted,omitempty"`
}
