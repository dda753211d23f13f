package models

import "ctchen222/picross/internal/puzzle"

// ResultEntry is one player's row in the results table.
type ResultEntry struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name,omitempty"`
	Time     string `json:"time,omitempty"`
	Score    int    `json:"score"`
	Recorded bool   `json:"recorded"`
}

// ConfigurationRequest sets the active puzzle configuration.
type ConfigurationRequest struct {
	Configuration string `json:"configuration" binding:"required"`
}

// ConfigurationResponse describes the active puzzle configuration.
type ConfigurationResponse struct {
	Available     bool         `json:"available"`
	Configuration string       `json:"configuration"`
	Dimension     int          `json:"dimension,omitempty"`
	RowHints      puzzle.Hints `json:"row_hints,omitempty"`
	ColumnHints   puzzle.Hints `json:"column_hints,omitempty"`
}

// StatusResponse reports the coordinator's connection state.
type StatusResponse struct {
	LiveConnections int64 `json:"live_connections"`
	Players         int   `json:"players"`
	Accepting       bool  `json:"accepting"`
	Finalize        bool  `json:"finalize"`
	Subscribers     int   `json:"subscribers"`
}
