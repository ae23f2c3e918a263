package model

// SettingWorkerBudgets is the settings key holding per-worker budgets.
const SettingWorkerBudgets = "worker_budgets"

// Budget is an operator limit for one worker. Disabled means unlimited.
type Budget struct {
	Enabled bool `json:"enabled"`
	Limit   int  `json:"limit" validate:"gte=1"`
}

// WorkerBudgets is the stored value of SettingWorkerBudgets, keyed by worker.
type WorkerBudgets map[Worker]Budget
