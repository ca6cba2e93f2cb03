package types

import (
	"time"
)

// Chain is an immutable blockchain network configuration row.
type Chain struct {
	ID                    int64  `db:"id"`
	Name                  string `db:"name"`
	RPCURL                string `db:"rpc_url"`
	ConfirmationThreshold int64  `db:"confirmation_threshold"`
	BlockTimeSeconds      int64  `db:"block_time_seconds"`
	IsActive              bool   `db:"is_active"`
}

// ChainFamily distinguishes how transactions are built and confirmed.
type ChainFamily string

const (
	ChainFamilyEVM          ChainFamily = "evm"
	ChainFamilyAccountModel ChainFamily = "account"
)

// Family maps well-known chain names onto a transaction-building family.
// Unknown chains are treated as EVM, the dominant case.
func (c *Chain) Family() ChainFamily {
	switch c.Name {
	case "tron", "tron-shasta", "tron-nile":
		return ChainFamilyAccountModel
	default:
		return ChainFamilyEVM
	}
}

// AssetOnChain binds an asset to a concrete chain deployment.
type AssetOnChain struct {
	ID              int64   `db:"id"`
	ChainID         int64   `db:"chain_id"`
	AssetID         int64   `db:"asset_id"`
	ContractAddress *string `db:"contract_address"`
	Decimals        int32   `db:"decimals"`
	IsNative        bool    `db:"is_native"`
	IsActive        bool    `db:"is_active"`
}

// UserWalletAddress is a deposit address assigned to a user.
type UserWalletAddress struct {
	ID              int64  `db:"id"`
	UID             string `db:"uid"`
	ChainID         int64  `db:"chain_id"`
	Address         string `db:"address"`
	WalletGroupID   int64  `db:"wallet_group_id"`
	DerivationIndex int64  `db:"derivation_index"`
	IsActive        bool   `db:"is_active"`
}

// WalletRole is the operational role of an operator-owned wallet.
type WalletRole string

const (
	WalletRoleHot  WalletRole = "hot"
	WalletRoleGas  WalletRole = "gas"
	WalletRoleCold WalletRole = "cold"
)

// OperationWalletAddress is an operator-owned wallet.
type OperationWalletAddress struct {
	ID              int64      `db:"id"`
	ChainID         int64      `db:"chain_id"`
	Address         string     `db:"address"`
	Role            WalletRole `db:"role"`
	WalletGroupID   int64      `db:"wallet_group_id"`
	DerivationIndex int64      `db:"derivation_index"`
	IsActive        bool       `db:"is_active"`
	LastUsedAt      *time.Time `db:"last_used_at"`
}

// ProcessingStatus is the wallet-level mutual exclusion state machine.
type ProcessingStatus string

const (
	ProcessingIdle          ProcessingStatus = "idle"
	ProcessingConsolidating ProcessingStatus = "consolidating"
	ProcessingGasTopup      ProcessingStatus = "gas_topup"
	ProcessingWithdrawing   ProcessingStatus = "withdrawing"
)

// WalletBalance tracks a (wallet, asset) pair plus its pessimistic locks.
type WalletBalance struct {
	ID                       int64            `db:"id"`
	WalletID                 int64            `db:"wallet_id"`
	AssetOnChainID           int64            `db:"asset_on_chain_id"`
	AvailableRaw             string           `db:"available_raw"`
	NeedsConsolidation       bool             `db:"needs_consolidation"`
	NeedsGas                 bool             `db:"needs_gas"`
	ProcessingStatus         ProcessingStatus `db:"processing_status"`
	ConsolidationLockedUntil *time.Time       `db:"consolidation_locked_until"`
	ConsolidationLockedBy    *string          `db:"consolidation_locked_by"`
	GasLockedUntil           *time.Time       `db:"gas_locked_until"`
	GasLockedBy              *string          `db:"gas_locked_by"`
	WithdrawalLockedUntil    *time.Time       `db:"withdrawal_locked_until"`
	WithdrawalLockedBy       *string          `db:"withdrawal_locked_by"`
	LastProcessedAt          *time.Time       `db:"last_processed_at"`
	LastConsolidationAt      *time.Time       `db:"last_consolidation_at"`
}

// DepositStatus is the deposit lifecycle. Deposits never fail; crediting lags.
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
)

// Deposit is an inbound transfer observed by the scanner.
type Deposit struct {
	ID             int64         `db:"id"`
	ChainID        int64         `db:"chain_id"`
	AssetOnChainID int64         `db:"asset_on_chain_id"`
	TxHash         string        `db:"tx_hash"`
	LogIndex       int64         `db:"log_index"`
	ToAddress      string        `db:"to_address"`
	AmountRaw      string        `db:"amount_raw"`
	AmountHuman    string        `db:"amount_human"`
	BlockNumber    int64         `db:"block_number"`
	Status         DepositStatus `db:"status"`
	Confirmations  int64         `db:"confirmations"`
	FirstSeenBlock *int64        `db:"first_seen_block"`
	ConfirmedAt    *time.Time    `db:"confirmed_at"`
	CreditedAt     *time.Time    `db:"credited_at"`
}

// WithdrawalRequestStatus is the user-visible withdrawal intent lifecycle.
type WithdrawalRequestStatus string

const (
	RequestPending   WithdrawalRequestStatus = "pending"
	RequestApproved  WithdrawalRequestStatus = "approved"
	RequestQueued    WithdrawalRequestStatus = "queued"
	RequestCompleted WithdrawalRequestStatus = "completed"
	RequestFailed    WithdrawalRequestStatus = "failed"
)

// WithdrawalRequest is a user intent to withdraw funds.
type WithdrawalRequest struct {
	ID             int64                   `db:"id"`
	UserID         string                  `db:"user_id"`
	ChainID        int64                   `db:"chain_id"`
	AssetOnChainID *int64                  `db:"asset_on_chain_id"`
	AssetID        *int64                  `db:"asset_id"`
	ToAddress      string                  `db:"to_address"`
	AmountHuman    string                  `db:"amount_human"`
	Status         WithdrawalRequestStatus `db:"status"`
	QueuedAt       *time.Time              `db:"queued_at"`
	FinalTxHash    *string                 `db:"final_tx_hash"`
}

// JobStatus is the queue-job lifecycle shared by all three queues.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobConfirming JobStatus = "confirming"
	JobConfirmed  JobStatus = "confirmed"
	JobFailed     JobStatus = "failed"
)

// Priority orders claim candidates within a queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank maps a priority onto its sort rank (high first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// JobCore carries the columns every queue table shares.
type JobCore struct {
	ID           int64      `db:"id"`
	ChainID      int64      `db:"chain_id"`
	Status       JobStatus  `db:"status"`
	Priority     Priority   `db:"priority"`
	TxHash       *string    `db:"tx_hash"`
	RetryCount   int        `db:"retry_count"`
	MaxRetries   int        `db:"max_retries"`
	ErrorMessage *string    `db:"error_message"`
	ScheduledAt  time.Time  `db:"scheduled_at"`
	ProcessedAt  *time.Time `db:"processed_at"`
	GasUsed      *string    `db:"gas_used"`
	GasPrice     *string    `db:"gas_price"`
}

// HasTxHash reports whether a transaction was already broadcast for this job.
func (j *JobCore) HasTxHash() bool {
	return j.TxHash != nil && *j.TxHash != ""
}

// JobID returns the queue row id.
func (j *JobCore) JobID() int64 { return j.ID }

// JobPriority returns the claim priority.
func (j *JobCore) JobPriority() Priority { return j.Priority }

// JobScheduledAt returns the earliest time the job may run.
func (j *JobCore) JobScheduledAt() time.Time { return j.ScheduledAt }

// WithdrawalJob is one executable withdrawal in withdrawal_queue.
type WithdrawalJob struct {
	JobCore
	WithdrawalRequestID      int64  `db:"withdrawal_request_id"`
	AssetOnChainID           int64  `db:"asset_on_chain_id"`
	OperationWalletAddressID int64  `db:"operation_wallet_address_id"`
	ToAddress                string `db:"to_address"`
	AmountRaw                string `db:"amount_raw"`
	AmountHuman              string `db:"amount_human"`
}

// ConsolidationJob sweeps a user wallet balance into a hot wallet.
type ConsolidationJob struct {
	JobCore
	WalletBalanceID          int64  `db:"wallet_balance_id"`
	WalletID                 int64  `db:"wallet_id"`
	AssetOnChainID           int64  `db:"asset_on_chain_id"`
	OperationWalletAddressID int64  `db:"operation_wallet_address_id"`
	AmountRaw                string `db:"amount_raw"`
}

// GasTopupJob funds a user wallet with native currency for a later sweep.
type GasTopupJob struct {
	JobCore
	WalletBalanceID          int64  `db:"wallet_balance_id"`
	WalletID                 int64  `db:"wallet_id"`
	OperationWalletAddressID int64  `db:"operation_wallet_address_id"`
	AmountRaw                string `db:"amount_raw"`
}

// WorkerRunStatus is the coarse control-plane state of a worker process.
type WorkerRunStatus string

const (
	WorkerStarting WorkerRunStatus = "starting"
	WorkerRunning  WorkerRunStatus = "running"
	WorkerPaused   WorkerRunStatus = "paused"
	WorkerStopped  WorkerRunStatus = "stopped"
)

// WorkerHealth is the self-reported health of a worker process.
type WorkerHealth string

const (
	HealthHealthy  WorkerHealth = "healthy"
	HealthDegraded WorkerHealth = "degraded"
	HealthPaused   WorkerHealth = "paused"
	HealthUnknown  WorkerHealth = "unknown"
)

// WorkerStatus is a worker's control-plane row, keyed by worker_id.
type WorkerStatus struct {
	WorkerID       string          `db:"worker_id"`
	WorkerType     string          `db:"worker_type"`
	ChainID        *int64          `db:"chain_id"`
	Status         WorkerRunStatus `db:"status"`
	HealthStatus   WorkerHealth    `db:"health_status"`
	StartedAt      time.Time       `db:"started_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	CurrentMetrics *string         `db:"current_metrics"`
	JobsProcessed  int64           `db:"jobs_processed"`
	JobsSuccess    int64           `db:"jobs_success"`
	JobsFailed     int64           `db:"jobs_failed"`
}

// CycleStatus labels one worker loop cycle in the execution log.
type CycleStatus string

const (
	CycleSuccess CycleStatus = "success"
	CycleFail    CycleStatus = "fail"
	CycleSkip    CycleStatus = "skip"
)

// ExecutionLog is one append-only per-cycle evidence row.
type ExecutionLog struct {
	ID         string      `db:"id"`
	WorkerID   string      `db:"worker_id"`
	WorkerType string      `db:"worker_type"`
	ChainID    *int64      `db:"chain_id"`
	Status     CycleStatus `db:"status"`
	DurationMS int64       `db:"duration_ms"`
	Message    *string     `db:"message"`
	Metadata   *string     `db:"metadata"`
	CreatedAt  time.Time   `db:"created_at"`
}

// IncidentModeName is the global operational triage switch.
type IncidentModeName string

const (
	IncidentNormal    IncidentModeName = "normal"
	IncidentDegraded  IncidentModeName = "degraded"
	IncidentEmergency IncidentModeName = "emergency"
)

// IncidentMode is the decoded worker_configs.incident_mode value.
type IncidentMode struct {
	Mode               IncidentModeName `json:"mode"`
	DegradedGasAllowed bool             `json:"degraded_gas_allowed,omitempty"`
}

// MaintenanceWindow pauses matching workers for its duration.
// A nil WorkerType or ChainID matches all.
type MaintenanceWindow struct {
	ID         int64     `db:"id"`
	WorkerType *string   `db:"worker_type"`
	ChainID    *int64    `db:"chain_id"`
	StartTime  time.Time `db:"start_time"`
	EndTime    time.Time `db:"end_time"`
	Reason     string    `db:"reason"`
}
