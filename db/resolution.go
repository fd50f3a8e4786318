package db

import (
	"database/sql"
	"encoding/json"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/types"
)

// resolutionRow is the JSON shape stored in resolution_strategies.payload;
// it carries every per-kind field of types.ResolutionStrategy so a single
// column serves the whole tagged union (spec §3-EXT).
type resolutionRow struct {
	URL        string   `json:"url,omitempty"`
	Checksum   string   `json:"checksum,omitempty"`
	DeltaBase  string   `json:"delta_base,omitempty"`
	Endpoint   string   `json:"endpoint,omitempty"`
	Distro     string   `json:"distro,omitempty"`
	SourceName string   `json:"source_name,omitempty"`
	RecipeURL  string   `json:"recipe_url,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Patches    []string `json:"patches,omitempty"`
	Label      string   `json:"label,omitempty"`
	RowID      int64    `json:"row_id,omitempty"`
}

// InsertResolutionStrategy persists strategy for troveID within tx.
func InsertResolutionStrategy(tx *sql.Tx, troveID int64, strategy types.ResolutionStrategy) error {
	row := resolutionRow{
		URL:        strategy.URL,
		Checksum:   strategy.Checksum,
		DeltaBase:  strategy.DeltaBase,
		Endpoint:   strategy.Endpoint,
		Distro:     strategy.Distro,
		SourceName: strategy.SourceName,
		RecipeURL:  strategy.RecipeURL,
		Sources:    strategy.Sources,
		Patches:    strategy.Patches,
		Label:      strategy.Label,
		RowID:      strategy.RowID,
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return build.ExtendErr("unable to marshal resolution strategy", err)
	}
	_, err = tx.Exec(
		`INSERT INTO resolution_strategies (trove_id, kind, payload) VALUES (?, ?, ?)`,
		troveID, string(strategy.Kind), string(payload),
	)
	return err
}

// GetResolutionStrategy returns the ResolutionStrategy recorded for
// troveID.
func GetResolutionStrategy(tx *sql.Tx, troveID int64) (types.ResolutionStrategy, error) {
	var kind, payload string
	err := tx.QueryRow(`SELECT kind, payload FROM resolution_strategies WHERE trove_id = ?`, troveID).
		Scan(&kind, &payload)
	if err == sql.ErrNoRows {
		return types.ResolutionStrategy{}, ErrNotFound
	}
	if err != nil {
		return types.ResolutionStrategy{}, err
	}
	var row resolutionRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return types.ResolutionStrategy{}, build.ExtendErr("unable to unmarshal resolution strategy", err)
	}
	return types.ResolutionStrategy{
		Kind:       types.ResolutionKind(kind),
		URL:        row.URL,
		Checksum:   row.Checksum,
		DeltaBase:  row.DeltaBase,
		Endpoint:   row.Endpoint,
		Distro:     row.Distro,
		SourceName: row.SourceName,
		RecipeURL:  row.RecipeURL,
		Sources:    row.Sources,
		Patches:    row.Patches,
		Label:      row.Label,
		RowID:      row.RowID,
	}, nil
}

// DeleteResolutionStrategyForTrove removes the resolution strategy row
// owned by troveID.
func DeleteResolutionStrategyForTrove(tx *sql.Tx, troveID int64) error {
	_, err := tx.Exec(`DELETE FROM resolution_strategies WHERE trove_id = ?`, troveID)
	return err
}
