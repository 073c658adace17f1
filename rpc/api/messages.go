package api

// Identities travel as base58 text.

type RegisterRequest struct {
	Stake uint64 `json:"stake"`
}

type RegisterResponse struct {
	Identity string `json:"identity"`
}

type StartRoundRequest struct{}

type StartRoundResponse struct {
	Round uint64 `json:"round"`
}

type SubmitUpdateRequest struct {
	Hash string `json:"hash"`
}

type SubmitUpdateResponse struct{}

type AggregateRequest struct {
	Hash string `json:"hash"`
}

type AggregateResponse struct{}

type ClaimRewardsRequest struct{}

type ClaimRewardsResponse struct {
	Amount uint64 `json:"amount"`
	// PayoutID identifies the settlement record. Empty if settlement failed,
	// in which case the amount must be reconciled out of band.
	PayoutID string `json:"payout_id,omitempty"`
}

type InfoRequest struct{}

type InfoResponse struct {
	Operator        string `json:"operator"`
	CurrentRound    uint64 `json:"current_round"`
	RoundActive     bool   `json:"round_active"`
	Phase           string `json:"phase"`
	Participants    uint64 `json:"participants"`
	Submissions     uint64 `json:"submissions"`
	Height          uint64 `json:"height"`
	Quorum          uint64 `json:"quorum"`
	MinStake        uint64 `json:"min_stake"`
	RewardPerUpdate uint64 `json:"reward_per_update"`
}

type ParticipantRequest struct {
	Identity string `json:"identity"`
}

type ParticipantResponse struct {
	Identity      string `json:"identity"`
	Stake         uint64 `json:"stake"`
	Reputation    uint64 `json:"reputation"`
	Contributions uint64 `json:"contributions"`
	Active        bool   `json:"active"`
	Multiplier    uint64 `json:"multiplier"`
	PendingReward uint64 `json:"pending_reward"`
}

type GlobalModelRequest struct {
	Round uint64 `json:"round"`
}

type GlobalModelResponse struct {
	Round              uint64 `json:"round"`
	ModelHash          string `json:"model_hash"`
	ParticipantCount   uint64 `json:"participant_count"`
	TotalStake         uint64 `json:"total_stake"`
	AggregatedAtHeight uint64 `json:"aggregated_at_height"`
}

type UpdateRequest struct {
	Round    uint64 `json:"round"`
	Identity string `json:"identity"`
}

type UpdateResponse struct {
	Hash              string `json:"hash"`
	SubmittedAtHeight uint64 `json:"submitted_at_height"`
	Verified          bool   `json:"verified"`
}

// Payout is a journaled withdrawal awaiting the treasury.
type Payout struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	CreatedAt int64  `json:"created_at"`
}

type PayoutsResponse struct {
	Payouts []Payout `json:"payouts"`
}

type SettlePayoutResponse struct {
	ID string `json:"id"`
}

type BackupRequest struct{}

type BackupResponse struct {
	Path   string `json:"path"`
	Height uint64 `json:"height"`
	Keys   int    `json:"keys"`
}
