package dao

import (
	"context"
	"testing"

	"github.com/pulseworks/pulse/pkg/types"
)

// passProposal opens a proposal of the given type and votes it through.
func passProposal(t *testing.T, r *Resolver, pType types.ProposalType, params map[string]any) {
	t.Helper()
	ctx := context.Background()
	openProposal(t, r, pType, params)
	if err := r.CastVote(ctx, "p1", "alice", types.VoteYes); err != nil {
		t.Fatal(err)
	}
	if err := r.CastVote(ctx, "p1", "bob", types.VoteYes); err != nil {
		t.Fatal(err)
	}
}

func TestParameterChangeEffect(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newTestResolver(t)

	passProposal(t, r, types.ProposalParameterChange, map[string]any{
		"key":   "min_stake",
		"value": 100.0,
	})

	d, _ := st.GetDAO(ctx, "dao1")
	if d.Settings["min_stake"] != 100.0 {
		t.Fatalf("setting not applied: %+v", d.Settings)
	}
	p, _ := st.GetProposal(ctx, "p1")
	if p.Status != types.ProposalExecuted {
		t.Fatalf("expected EXECUTED, got %s", p.Status)
	}
}

func TestParameterChangeMissingKeyFails(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newTestResolver(t)

	passProposal(t, r, types.ProposalParameterChange, map[string]any{"value": 1.0})

	p, _ := st.GetProposal(ctx, "p1")
	if p.Status != types.ProposalFailed {
		t.Fatalf("missing key must fail execution, got %s", p.Status)
	}
}

func TestTreasuryAllocationEffect(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newTestResolver(t)

	passProposal(t, r, types.ProposalTreasuryAllocation, map[string]any{
		"recipient": "0xgrant",
		"amount":    50.0,
	})

	d, _ := st.GetDAO(ctx, "dao1")
	rec, ok := d.Settings["treasury_allocation:p1"].(map[string]any)
	if !ok {
		t.Fatalf("allocation not recorded: %+v", d.Settings)
	}
	if rec["recipient"] != "0xgrant" || rec["amount"] != 50.0 {
		t.Fatalf("allocation fields wrong: %+v", rec)
	}
}

func TestTemplateApprovalEffect(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newTestResolver(t)

	passProposal(t, r, types.ProposalTemplateApproval, map[string]any{
		"template": "weekly-claim",
	})

	d, _ := st.GetDAO(ctx, "dao1")
	if d.Settings["approved_template:weekly-claim"] != true {
		t.Fatalf("template not approved: %+v", d.Settings)
	}
}

func TestMemberPromotionEffect(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newTestResolver(t)

	passProposal(t, r, types.ProposalMemberPromotion, map[string]any{
		"member": "bob",
		"role":   "admin",
	})

	d, _ := st.GetDAO(ctx, "dao1")
	if !d.IsAdmin("bob") {
		t.Fatalf("bob not promoted: %+v", d.Members)
	}
}

func TestMemberPromotionUnknownMemberFails(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newTestResolver(t)

	passProposal(t, r, types.ProposalMemberPromotion, map[string]any{
		"member": "mallory",
		"role":   "admin",
	})

	p, _ := st.GetProposal(ctx, "p1")
	if p.Status != types.ProposalFailed {
		t.Fatalf("unknown member must fail execution, got %s", p.Status)
	}
}
