package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/lead"
)

func (h *harness) hold(id, draft string) {
	h.t.Helper()
	l := h.lead(id)
	require.NoError(h.t, l.QueueDraft(draft, lead.DraftReply))
	require.NoError(h.t, h.store.SaveLead(h.ctx, l))
}

func TestOperatorApproveAndDiscard(t *testing.T) {
	h := newHarness(t, nil)
	h.addLead("L1", "905551112233", lead.StatusInterested)
	h.addLead("L2", "905551112244", lead.StatusNeutral)
	h.hold("L1", "Demo için salı uygun mu?")
	h.hold("L2", "Teşekkürler!")

	l, err := h.orch.Approve(h.ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, lead.StatusApproved, l.Status)
	assert.Equal(t, lead.StatusApproved, h.lead("L1").Status)

	l, err = h.orch.Discard(h.ctx, "L2")
	require.NoError(t, err)
	assert.Equal(t, lead.StatusNeutral, l.Status)
	stored := h.lead("L2")
	assert.Equal(t, lead.StatusNeutral, stored.Status)
	assert.Empty(t, stored.DraftMessage)
}

func TestOperatorApproveWithoutDraft(t *testing.T) {
	h := newHarness(t, nil)
	h.addLead("L1", "905551112233", lead.StatusSent)

	_, err := h.orch.Approve(h.ctx, "L1")
	assert.ErrorIs(t, err, ErrNoDraft)
	_, err = h.orch.Discard(h.ctx, "L1")
	assert.ErrorIs(t, err, ErrNoDraft)
	assert.Equal(t, lead.StatusSent, h.lead("L1").Status)
}

func TestOperatorConvertStopsPendingReply(t *testing.T) {
	h := newHarness(t, nil)
	l := h.addLead("L1", "905551112233", lead.StatusSent)
	h.inbound(l.ChatID, "m1", "Tamam, kayıt olalım")
	h.tick()
	require.NotNil(t, h.lead("L1").PendingReplySince)

	_, err := h.orch.Convert(h.ctx, "L1")
	require.NoError(t, err)

	h.advance(2 * time.Minute)
	h.tick()
	got := h.lead("L1")
	assert.Equal(t, lead.StatusConverted, got.Status)
	assert.Nil(t, got.PendingReplySince)
	assert.Empty(t, h.gateway.sentTexts())
}

func TestOperatorRequestStrategy(t *testing.T) {
	h := newHarness(t, nil)
	h.addLead("L1", "905551112233", lead.StatusSent)

	_, err := h.orch.RequestStrategy(h.ctx, "L1", lead.Strategy("Z"))
	assert.Error(t, err)

	l, err := h.orch.RequestStrategy(h.ctx, "L1", lead.StrategyAnalyst)
	require.NoError(t, err)
	assert.Equal(t, lead.StrategyAnalyst, l.RequestedStrategy)

	h.tick()
	got := h.lead("L1")
	assert.Equal(t, lead.StrategyAnalyst, got.ActiveStrategy)
	assert.Empty(t, got.RequestedStrategy)
}

func TestArchiveGhost(t *testing.T) {
	h := newHarness(t, nil)
	old := h.addLead("L1", "905551112233", lead.StatusSent)
	h.addLead("L2", "905551112244", lead.StatusSent)

	sent := tuesday9.Add(-72 * time.Hour)
	old.LastOutboundAt = &sent
	require.NoError(t, h.store.SaveLead(h.ctx, old))

	archived, err := h.orch.ArchiveGhost(h.ctx, "L1")
	require.NoError(t, err)
	assert.True(t, archived)
	assert.True(t, h.lead("L1").IsArchived())
	assert.Equal(t, "ghost", h.lead("L1").ArchiveReason)
	assert.Equal(t, []string{old.ChatID}, h.gateway.archived)

	archived, err = h.orch.ArchiveGhost(h.ctx, "L2")
	require.NoError(t, err)
	assert.False(t, archived)
	assert.False(t, h.lead("L2").IsArchived())
}

func TestBlacklistLead(t *testing.T) {
	h := newHarness(t, nil)
	h.addLead("L1", "905551112233", lead.StatusNeutral)

	require.NoError(t, h.orch.BlacklistLead(h.ctx, "L1", "hard reject: yazma"))
	require.NoError(t, h.orch.BlacklistLead(h.ctx, "L1", "again"))

	assert.Equal(t, lead.StatusBlacklisted, h.lead("L1").Status)
	blocked, err := h.store.IsBlacklisted(h.ctx, "905551112233")
	require.NoError(t, err)
	assert.True(t, blocked)
}
