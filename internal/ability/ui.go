package ability

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CooldownRatio is the remaining share of the cooldown in [0,1].
func (h *Handler) CooldownRatio(a *Ability) float32 {
	st, ok := h.State(a)
	if !ok {
		return 0
	}
	return ratio(st.Cooldown, a.MaxCooldown(h.entity))
}

// ChargeProgressRatio is progress toward the next charge in [0,1].
func (h *Handler) ChargeProgressRatio(a *Ability) float32 {
	st, ok := h.State(a)
	if !ok {
		return 0
	}
	return ratio(st.ChargeProgress, a.MaxChargeProgress(h.entity))
}

// Parameters returns the display values of a formatted for lang.
func (h *Handler) Parameters(a *Ability, lang language.Tag) map[string]string {
	if a == nil {
		return nil
	}
	p := message.NewPrinter(lang)
	params := map[string]string{
		"max_cooldown": p.Sprintf("%.1f", a.MaxCooldown(h.entity)),
	}
	if a.flags.HasCharges {
		params["max_charges"] = p.Sprintf("%d", a.MaxCharges(h.entity))
		params["charge_progress_max"] = p.Sprintf("%.1f", a.MaxChargeProgress(h.entity))
	}
	if st, ok := h.State(a); ok {
		params["cooldown"] = p.Sprintf("%.1f", st.Cooldown)
		if a.flags.HasCharges {
			params["charges"] = p.Sprintf("%d", st.Charges)
			params["charge_progress"] = p.Sprintf("%.1f", st.ChargeProgress)
		}
	}
	return params
}

func ratio(v, max float32) float32 {
	if max <= 0 {
		return 0
	}
	r := v / max
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
