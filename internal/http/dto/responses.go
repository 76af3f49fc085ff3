package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type DonorResponse struct {
	Donor       any    `json:"donor"`
	Tier        any    `json:"tier"`
	VotingPower int64  `json:"voting_power"`
	NextLevelXP string `json:"next_level_xp"`
}
