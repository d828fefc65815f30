package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulseworks/pulse/pkg/store"
	"github.com/pulseworks/pulse/pkg/types"
)

// defaultEffects maps each proposal type to its built-in handler.
func defaultEffects() map[types.ProposalType]EffectFunc {
	return map[types.ProposalType]EffectFunc{
		types.ProposalParameterChange:    applyParameterChange,
		types.ProposalTreasuryAllocation: applyTreasuryAllocation,
		types.ProposalTemplateApproval:   applyTemplateApproval,
		types.ProposalMemberPromotion:    applyMemberPromotion,
		types.ProposalGeneric:            func(context.Context, store.Store, *types.Proposal) error { return nil },
	}
}

// applyParameterChange writes params["key"] = params["value"] into the DAO
// settings, retrying the optimistic update.
func applyParameterChange(ctx context.Context, st store.Store, p *types.Proposal) error {
	key, ok := p.Params["key"].(string)
	if !ok || key == "" {
		return fmt.Errorf("parameter change %s: missing key", p.ID)
	}
	value, ok := p.Params["value"]
	if !ok {
		return fmt.Errorf("parameter change %s: missing value", p.ID)
	}
	return updateDAO(ctx, st, p.DAOID, func(d *types.DAO) error {
		if d.Settings == nil {
			d.Settings = make(map[string]any)
		}
		d.Settings[key] = value
		return nil
	})
}

// applyTreasuryAllocation records the allocation under the DAO settings. The
// actual transfer is an automation workflow created from this record, not a
// direct ledger call from the resolver.
func applyTreasuryAllocation(ctx context.Context, st store.Store, p *types.Proposal) error {
	recipient, _ := p.Params["recipient"].(string)
	amount, okAmount := p.Params["amount"].(float64)
	if recipient == "" || !okAmount || amount <= 0 {
		return fmt.Errorf("treasury allocation %s: recipient and positive amount required", p.ID)
	}
	return updateDAO(ctx, st, p.DAOID, func(d *types.DAO) error {
		if d.Settings == nil {
			d.Settings = make(map[string]any)
		}
		d.Settings["treasury_allocation:"+p.ID] = map[string]any{
			"recipient": recipient,
			"amount":    amount,
		}
		return nil
	})
}

// applyTemplateApproval marks a workflow template as approved for the DAO.
func applyTemplateApproval(ctx context.Context, st store.Store, p *types.Proposal) error {
	template, _ := p.Params["template"].(string)
	if template == "" {
		return fmt.Errorf("template approval %s: missing template", p.ID)
	}
	return updateDAO(ctx, st, p.DAOID, func(d *types.DAO) error {
		if d.Settings == nil {
			d.Settings = make(map[string]any)
		}
		d.Settings["approved_template:"+template] = true
		return nil
	})
}

// applyMemberPromotion changes a member's role.
func applyMemberPromotion(ctx context.Context, st store.Store, p *types.Proposal) error {
	member, _ := p.Params["member"].(string)
	role, _ := p.Params["role"].(string)
	if member == "" || role == "" {
		return fmt.Errorf("member promotion %s: member and role required", p.ID)
	}
	return updateDAO(ctx, st, p.DAOID, func(d *types.DAO) error {
		for i := range d.Members {
			if d.Members[i].Address == member {
				d.Members[i].Role = role
				return nil
			}
		}
		return fmt.Errorf("member promotion %s: %s not in dao", p.ID, member)
	})
}

// updateDAO applies mutate under optimistic-conflict retry.
func updateDAO(ctx context.Context, st store.Store, daoID string, mutate func(*types.DAO) error) error {
	for attempt := 0; ; attempt++ {
		d, err := st.GetDAO(ctx, daoID)
		if err != nil {
			return err
		}
		if err := mutate(d); err != nil {
			return err
		}
		err = st.UpdateDAO(ctx, d)
		if err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrConflict) || attempt >= conflictRetries {
			return err
		}
	}
}
