package viewer

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/scoring"
)

var csvHeader = []string{
	"risk",
	"ip_address",
	"threat_score",
	"visit_count",
	"behavior_count",
	"first_seen",
	"last_seen",
	"base_hash",
	"chain_id",
	"user_agent",
}

// WriteCSV renders fingerprints as CSV for piping into other tools. Column
// order mirrors the fingerprints panel, with the raw identity fields added.
// User agents routinely contain commas and quotes, so rows go through the
// csv writer rather than string joins.
func WriteCSV(w io.Writer, fingerprints []database.Fingerprint, risk func(score int32) scoring.RiskLevel) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for i := range fingerprints {
		fp := &fingerprints[i]

		chain := ""
		if fp.ChainID != nil {
			chain = *fp.ChainID
		}

		row := []string{
			string(risk(fp.ThreatScore)),
			fp.IPAddress,
			strconv.Itoa(int(fp.ThreatScore)),
			strconv.FormatInt(fp.VisitCount, 10),
			strconv.FormatInt(fp.BehaviorCount, 10),
			fp.FirstSeen.UTC().Format(time.RFC3339),
			fp.LastSeen.UTC().Format(time.RFC3339),
			fp.BaseHash,
			chain,
			fp.UserAgent,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
