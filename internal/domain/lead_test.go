package domain_test

import (
	"testing"

	"github.com/leadscout/leadscout/internal/domain"
)

func TestLeadStatus_CanTransitionTo(t *testing.T) {
	testCases := []struct {
		name string
		from domain.LeadStatus
		to   domain.LeadStatus
		want bool
	}{
		{"new to commented", domain.LeadStatusNew, domain.LeadStatusCommented, true},
		{"commented to dm sent", domain.LeadStatusCommented, domain.LeadStatusDMSent, true},
		{"dm sent to responded", domain.LeadStatusDMSent, domain.LeadStatusResponded, true},
		{"responded to converted", domain.LeadStatusResponded, domain.LeadStatusConverted, true},
		{"new to dm sent skips commented", domain.LeadStatusNew, domain.LeadStatusDMSent, false},
		{"responded back to new", domain.LeadStatusResponded, domain.LeadStatusNew, false},
		{"new can archive", domain.LeadStatusNew, domain.LeadStatusArchived, true},
		{"converted is terminal", domain.LeadStatusConverted, domain.LeadStatusArchived, false},
		{"archived is terminal", domain.LeadStatusArchived, domain.LeadStatusNew, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestLeadStage_CanTransitionTo(t *testing.T) {
	testCases := []struct {
		name string
		from domain.LeadStage
		to   domain.LeadStage
		want bool
	}{
		{"lead to interested", domain.StageLead, domain.StageInterested, true},
		{"interested to cta whatsapp", domain.StageInterested, domain.StageCTAWhatsApp, true},
		{"interested to cta phone", domain.StageInterested, domain.StageCTAPhone, true},
		{"cta whatsapp to converted", domain.StageCTAWhatsApp, domain.StageConverted, true},
		{"lead straight to converted", domain.StageLead, domain.StageConverted, false},
		{"any stage can be lost", domain.StageInterested, domain.StageLost, true},
		{"converted is terminal", domain.StageConverted, domain.StageLost, false},
		{"lost is terminal", domain.StageLost, domain.StageLead, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestLeadStage_IsTerminal(t *testing.T) {
	if !domain.StageConverted.IsTerminal() {
		t.Error("expected CONVERTED to be terminal")
	}
	if !domain.StageLost.IsTerminal() {
		t.Error("expected LOST to be terminal")
	}
	if domain.StageLead.IsTerminal() {
		t.Error("expected LEAD to be non-terminal")
	}
}
