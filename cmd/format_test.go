//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

func TestFormatReports(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	reports := []model.SittingReport{
		{SittingID: "42-1-190", Status: model.SittingSuccess, Blocks: 312, UpdatedAt: now},
		{SittingID: "42-1-191", Status: model.SittingSchemaError, Detail: strings.Repeat("x", 200)},
	}

	var buf bytes.Buffer
	formatReports(&buf, reports)

	output := buf.String()
	assert.Contains(t, output, "SITTING")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "42-1-190")
	assert.Contains(t, output, "success")
	assert.Contains(t, output, "312")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "schema_error")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, strings.Repeat("x", 81))
}

func TestFormatEscalations(t *testing.T) {
	escs := []model.Escalation{
		{
			ID:          "esc-1",
			Kind:        model.KindParliamentarian,
			SittingID:   "42-1-190",
			SearchNames: []string{"John Doe", "Doe, John"},
			Candidates: []model.Candidate{
				{EntityID: "p-doe1", Score: 1},
				{EntityID: "p-doe2", Score: 1},
			},
			Status: model.EscalationPending,
		},
		{
			ID:          "esc-2",
			Kind:        model.KindRiding,
			SearchNames: []string{"Westmount"},
			Status:      model.EscalationDecided,
			Decision:    model.EscalationDecision{CorrectedSearch: "Westmount--Ville-Marie"},
		},
		{ID: "esc-3", Kind: model.KindParty, Status: model.EscalationSkipped},
	}

	var buf bytes.Buffer
	formatEscalations(&buf, escs)

	output := buf.String()
	assert.Contains(t, output, "CANDIDATES")
	assert.Contains(t, output, "John Doe | Doe, John")
	assert.Contains(t, output, "p-doe1(1.00) p-doe2(1.00)")
	assert.Contains(t, output, `search "Westmount--Ville-Marie"`)
	assert.Contains(t, output, "skip")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "séance", truncate("séance", 6))
}

func newDecideCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().String("entity", "", "")
	cmd.Flags().String("search", "", "")
	cmd.Flags().Bool("skip", false, "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestDecisionFromFlags(t *testing.T) {
	d, err := decisionFromFlags(newDecideCmd(t, "--entity", "p-doe"))
	require.NoError(t, err)
	assert.Equal(t, model.EscalationDecision{EntityID: "p-doe"}, d)

	d, err = decisionFromFlags(newDecideCmd(t, "--search", "DOE, Jon"))
	require.NoError(t, err)
	assert.Equal(t, "DOE, Jon", d.CorrectedSearch)

	d, err = decisionFromFlags(newDecideCmd(t, "--skip"))
	require.NoError(t, err)
	status, err := d.Status()
	require.NoError(t, err)
	assert.Equal(t, model.EscalationSkipped, status)

	_, err = decisionFromFlags(newDecideCmd(t))
	assert.Error(t, err)
	_, err = decisionFromFlags(newDecideCmd(t, "--entity", "p-doe", "--skip"))
	assert.Error(t, err)
}
