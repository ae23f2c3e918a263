// Package model defines the records shared by the enrichment, spend-ingest
// and data-sync workers.
package model

// Worker names a scheduled pipeline with its own budget and stage set.
type Worker string

const (
	WorkerEnrichment   Worker = "enrichment"
	WorkerSpendIngest  Worker = "spend-ingest"
	WorkerDataSync     Worker = "data-sync"
	WorkerBoardMinutes Worker = "board-minutes"
)

// Workers lists every worker with an operator budget.
var Workers = []Worker{WorkerEnrichment, WorkerDataSync, WorkerSpendIngest, WorkerBoardMinutes}

// Valid reports whether w is a known worker.
func (w Worker) Valid() bool {
	for _, k := range Workers {
		if w == k {
			return true
		}
	}
	return false
}

// Stage names one resumable step of a worker.
type Stage string

const (
	StageClassify         Stage = "classify"
	StageWebsiteDiscovery Stage = "website_discovery"
	StageLogoLinkedIn     Stage = "logo_linkedin"
	StageGovernanceURLs   Stage = "governance_urls"
	StageModernGov        Stage = "moderngov"
	StageScrape           Stage = "scrape"
	StagePersonnel        Stage = "personnel"
	StageScore            Stage = "score"

	StageSpendIngest Stage = "spend_ingest"

	StageSyncContractsFinder Stage = "data_sync:contracts_finder"
	StageSyncFindTender      Stage = "data_sync:find_tender"

	// StageAllComplete is reported when every stage of a worker is complete.
	StageAllComplete Stage = "all_complete"
)

// EnrichmentOrder is the fixed enrichment stage ordering.
var EnrichmentOrder = []Stage{
	StageClassify,
	StageWebsiteDiscovery,
	StageLogoLinkedIn,
	StageGovernanceURLs,
	StageModernGov,
	StageScrape,
	StagePersonnel,
	StageScore,
}

// StageOrder returns the ordered stages for a worker.
func StageOrder(w Worker) []Stage {
	switch w {
	case WorkerEnrichment:
		return EnrichmentOrder
	case WorkerSpendIngest:
		return []Stage{StageSpendIngest}
	case WorkerDataSync:
		return []Stage{StageSyncContractsFinder, StageSyncFindTender}
	default:
		return nil
	}
}

// WorkerOf returns the worker that owns a stage.
func WorkerOf(s Stage) Worker {
	switch s {
	case StageSpendIngest:
		return WorkerSpendIngest
	case StageSyncContractsFinder, StageSyncFindTender:
		return WorkerDataSync
	default:
		return WorkerEnrichment
	}
}
