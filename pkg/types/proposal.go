package types

import "time"

// ProposalStatus is the resolution state machine's state.
// Transitions: Active → {Passed, Rejected, Cancelled};
// Passed → {Executed, Failed}. Rejected, Executed, Failed and Cancelled
// are terminal.
type ProposalStatus string

const (
	ProposalActive    ProposalStatus = "ACTIVE"
	ProposalPassed    ProposalStatus = "PASSED"
	ProposalRejected  ProposalStatus = "REJECTED"
	ProposalExecuted  ProposalStatus = "EXECUTED"
	ProposalFailed    ProposalStatus = "FAILED"
	ProposalCancelled ProposalStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalRejected, ProposalExecuted, ProposalFailed, ProposalCancelled:
		return true
	}
	return false
}

// ProposalType selects the typed effect dispatched when a proposal passes.
type ProposalType string

const (
	ProposalParameterChange    ProposalType = "PARAMETER_CHANGE"
	ProposalTreasuryAllocation ProposalType = "TREASURY_ALLOCATION"
	ProposalTemplateApproval   ProposalType = "TEMPLATE_APPROVAL"
	ProposalMemberPromotion    ProposalType = "MEMBER_PROMOTION"
	ProposalGeneric            ProposalType = "GENERIC"
)

// VoteChoice is a single voter's position.
type VoteChoice string

const (
	VoteYes     VoteChoice = "YES"
	VoteNo      VoteChoice = "NO"
	VoteAbstain VoteChoice = "ABSTAIN"
)

// Valid reports whether c is a known choice.
func (c VoteChoice) Valid() bool {
	return c == VoteYes || c == VoteNo || c == VoteAbstain
}

// Vote is one weighted ballot. Votes are append-only; a voter appears at
// most once per proposal.
type Vote struct {
	Voter  string     `json:"voter"`
	Choice VoteChoice `json:"choice"`
	Weight float64    `json:"weight"`
	CastAt time.Time  `json:"cast_at"`
}

// Tally holds the weight sums derived from the vote list. It is updated on
// every append so reads never rescan the votes.
type Tally struct {
	Total   float64 `json:"total"`
	Yes     float64 `json:"yes"`
	No      float64 `json:"no"`
	Abstain float64 `json:"abstain"`
}

// Add folds one ballot into the tally.
func (t *Tally) Add(choice VoteChoice, weight float64) {
	t.Total += weight
	switch choice {
	case VoteYes:
		t.Yes += weight
	case VoteNo:
		t.No += weight
	case VoteAbstain:
		t.Abstain += weight
	}
}

// Proposal is a collective decision under resolution.
//
// QuorumFraction and ThresholdFraction are captured from the DAO's settings
// at creation time; later settings changes do not affect open proposals.
type Proposal struct {
	ID       string         `json:"id"`
	DAOID    string         `json:"dao_id"`
	Proposer string         `json:"proposer"`
	Type     ProposalType   `json:"type"`
	Status   ProposalStatus `json:"status"`

	Title  string         `json:"title,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	Votes []Vote `json:"votes"`
	Tally Tally  `json:"tally"`

	QuorumFraction    float64 `json:"quorum_fraction"`
	ThresholdFraction float64 `json:"threshold_fraction"`

	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"version"`
}

// HasVoted reports whether voter already appears in the vote list.
func (p *Proposal) HasVoted(voter string) bool {
	for _, v := range p.Votes {
		if v.Voter == voter {
			return true
		}
	}
	return false
}

// DAOMember is a voting participant.
type DAOMember struct {
	Address     string    `json:"address"`
	VotingPower float64   `json:"voting_power"` // >= 0
	Role        string    `json:"role"`         // e.g. "member", "admin"
	JoinedAt    time.Time `json:"joined_at"`
}

// DAO groups members and the governance settings new proposals snapshot.
type DAO struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Members []DAOMember `json:"members"`

	QuorumFraction    float64       `json:"quorum_fraction"`
	ThresholdFraction float64       `json:"threshold_fraction"`
	VotingPeriod      time.Duration `json:"voting_period"`

	// Settings holds governed parameters mutated by PARAMETER_CHANGE
	// proposals.
	Settings map[string]any `json:"settings,omitempty"`
	Version  int64          `json:"version"`
}

// TotalVotingPower is the quorum denominator: the sum of member power.
func (d *DAO) TotalVotingPower() float64 {
	var total float64
	for _, m := range d.Members {
		total += m.VotingPower
	}
	return total
}

// MemberPower returns the voting power of address, or 0 when not a member.
func (d *DAO) MemberPower(address string) (float64, bool) {
	for _, m := range d.Members {
		if m.Address == address {
			return m.VotingPower, true
		}
	}
	return 0, false
}

// IsAdmin reports whether address holds the admin role.
func (d *DAO) IsAdmin(address string) bool {
	for _, m := range d.Members {
		if m.Address == address && m.Role == "admin" {
			return true
		}
	}
	return false
}
