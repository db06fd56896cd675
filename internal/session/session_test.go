// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

type fakeAPI struct {
	liveState      models.LiveState
	liveStateErr   error
	liveStateCalls int

	territories    models.TerritoryMap
	territoriesErr error

	at      models.HistorySnapshot
	atErr   error
	atCalls int

	events    func(from, to time.Time, afterSeq *uint64, limit int) (models.HistoryEvents, error)
	bounds    models.HistoryBounds
	boundsErr error
}

func (f *fakeAPI) LiveState(context.Context) (models.LiveState, error) {
	f.liveStateCalls++
	return f.liveState, f.liveStateErr
}

func (f *fakeAPI) Territories(context.Context) (models.TerritoryMap, error) {
	return f.territories, f.territoriesErr
}

func (f *fakeAPI) At(context.Context, time.Time) (models.HistorySnapshot, error) {
	f.atCalls++
	return f.at, f.atErr
}

func (f *fakeAPI) Events(_ context.Context, from, to time.Time, afterSeq *uint64, limit int) (models.HistoryEvents, error) {
	if f.events != nil {
		return f.events(from, to, afterSeq, limit)
	}
	return models.HistoryEvents{}, nil
}

func (f *fakeAPI) Bounds(context.Context) (models.HistoryBounds, error) {
	return f.bounds, f.boundsErr
}

func guildTerritory(guildUUID string) models.Territory {
	return models.Territory{
		Guild:    models.GuildRef{UUID: guildUUID, Name: "Guild " + guildUUID, Prefix: "G"},
		Acquired: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Location: models.Region{Start: [2]int32{0, 0}, End: [2]int32{10, 10}},
	}
}

func changeFor(territory, guildUUID string) models.TerritoryChange {
	return models.TerritoryChange{
		Territory: territory,
		Guild:     models.GuildRef{UUID: guildUUID, Name: "Guild " + guildUUID, Prefix: "G"},
		Acquired:  "2026-07-01T12:00:00Z",
		Location:  models.Region{Start: [2]int32{0, 0}, End: [2]int32{10, 10}},
	}
}

func liveSession(api API) *Session {
	s := New(api)
	s.HandleSnapshot(context.Background(), 10, models.TerritoryMap{"Alpha": guildTerritory("g1")})
	return s
}

func TestSnapshotWhileLiveReplacesMapAndTracksSeq(t *testing.T) {
	s := New(&fakeAPI{})

	s.HandleSnapshot(context.Background(), 10, models.TerritoryMap{"Alpha": guildTerritory("g1")})

	if seq, ok := s.LastLiveSeq(); !ok || seq != 10 {
		t.Errorf("LastLiveSeq() = %d, %v; want 10, true", seq, ok)
	}
	if s.Territories()["Alpha"].Guild.UUID != "g1" {
		t.Error("snapshot did not replace the map")
	}
	if s.NeedsLiveResync() {
		t.Error("snapshot should clear the resync flag")
	}
}

func TestLegacySnapshotClearsSeqTracking(t *testing.T) {
	s := liveSession(&fakeAPI{})

	s.HandleSnapshot(context.Background(), 0, models.TerritoryMap{"Beta": guildTerritory("g2")})

	if _, ok := s.LastLiveSeq(); ok {
		t.Error("legacy snapshot should clear seq tracking")
	}
	if _, ok := s.Territories()["Beta"]; !ok {
		t.Error("legacy snapshot should still replace the map")
	}
}

func TestInOrderUpdateApplies(t *testing.T) {
	s := liveSession(&fakeAPI{})

	s.HandleUpdate(context.Background(), 11, []models.TerritoryChange{changeFor("Alpha", "g2")})

	if seq, _ := s.LastLiveSeq(); seq != 11 {
		t.Errorf("seq = %d, want 11", seq)
	}
	if s.Territories()["Alpha"].Guild.UUID != "g2" {
		t.Error("update not applied")
	}
}

func TestDuplicateUpdateIgnored(t *testing.T) {
	s := liveSession(&fakeAPI{})

	s.HandleUpdate(context.Background(), 10, []models.TerritoryChange{changeFor("Alpha", "g9")})
	s.HandleUpdate(context.Background(), 9, []models.TerritoryChange{changeFor("Alpha", "g9")})

	if s.Territories()["Alpha"].Guild.UUID != "g1" {
		t.Error("duplicate update mutated the map")
	}
	if seq, _ := s.LastLiveSeq(); seq != 10 {
		t.Errorf("seq moved to %d on duplicate", seq)
	}
}

func TestGapDetectionDropsEventAndTriggersResync(t *testing.T) {
	api := &fakeAPI{liveState: models.LiveState{
		Seq:         12,
		Timestamp:   "2026-07-01T12:00:00Z",
		Territories: models.TerritoryMap{"Alpha": guildTerritory("g7")},
	}}
	s := liveSession(api) // last_live_seq = 10

	// seq 12 after 10: a gap. The event is dropped, the counter increments,
	// and a resync fires immediately (backoff window is clear).
	s.HandleUpdate(context.Background(), 12, []models.TerritoryChange{changeFor("Alpha", "gX")})

	if got := s.CountersSnapshot().SeqGapDetected; got != 1 {
		t.Errorf("gap counter = %d, want 1", got)
	}
	if api.liveStateCalls != 1 {
		t.Errorf("resync calls = %d, want 1", api.liveStateCalls)
	}
	// The resync succeeded, so the session now tracks the server's seq and
	// the dropped event's payload never landed.
	if seq, _ := s.LastLiveSeq(); seq != 12 {
		t.Errorf("seq after resync = %d, want 12", seq)
	}
	if s.Territories()["Alpha"].Guild.UUID != "g7" {
		t.Errorf("map after resync owned by %s, want g7 (resync payload)", s.Territories()["Alpha"].Guild.UUID)
	}
	if s.NeedsLiveResync() {
		t.Error("successful resync should clear the flag")
	}
}

func TestLegacyUpdateAppliesWithoutTracking(t *testing.T) {
	s := liveSession(&fakeAPI{})

	s.HandleUpdate(context.Background(), 0, []models.TerritoryChange{changeFor("Alpha", "g5")})

	if s.Territories()["Alpha"].Guild.UUID != "g5" {
		t.Error("legacy update not applied")
	}
	if _, ok := s.LastLiveSeq(); ok {
		t.Error("legacy update should clear seq tracking")
	}
}

func TestHasSeqGap(t *testing.T) {
	tests := []struct {
		last     uint64
		have     bool
		incoming uint64
		want     bool
	}{
		{10, true, 11, false},
		{10, true, 12, true},
		{10, true, 5, true}, // handled earlier as duplicate in practice
		{0, false, 7, false},
		{10, true, 0, false},
	}
	for _, tt := range tests {
		if got := HasSeqGap(tt.last, tt.have, tt.incoming); got != tt.want {
			t.Errorf("HasSeqGap(%d, %v, %d) = %v, want %v", tt.last, tt.have, tt.incoming, got, tt.want)
		}
	}
}

func TestReplayUpdatesAfterSeqFiltersAndDeduplicates(t *testing.T) {
	buffer := []BufferedUpdate{{Seq: 4}, {Seq: 2}, {Seq: 8}, {Seq: 8}, {Seq: 5}}

	replay := ReplayUpdatesAfterSeq(4, buffer)

	var seqs []uint64
	for _, update := range replay {
		seqs = append(seqs, update.Seq)
	}
	if len(seqs) != 2 || seqs[0] != 5 || seqs[1] != 8 {
		t.Errorf("replay seqs = %v, want [5 8]", seqs)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	s := New(&fakeAPI{})
	s.territories = models.TerritoryMap{}

	replay := ReplayUpdatesAfterSeq(0, []BufferedUpdate{
		{Seq: 1, Changes: []models.TerritoryChange{changeFor("Alpha", "g1")}},
		{Seq: 2, Changes: []models.TerritoryChange{changeFor("Alpha", "g2")}},
	})

	for _, update := range replay {
		applyChanges(s.territories, update.Changes)
	}
	first := s.Territories()["Alpha"].Guild.UUID

	for _, update := range replay {
		applyChanges(s.territories, update.Changes)
	}
	second := s.Territories()["Alpha"].Guild.UUID

	if first != second || first != "g2" {
		t.Errorf("replay not idempotent: %s then %s", first, second)
	}
}

func TestSnapshotWhileHistoryFlagsResyncWithoutMutation(t *testing.T) {
	api := &fakeAPI{
		bounds: models.HistoryBounds{EventCount: 1},
		at:     models.HistorySnapshot{Timestamp: "2026-07-01T10:00:00Z", Ownership: map[string]models.OwnershipRecord{}},
	}
	s := liveSession(api)
	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}

	visible := s.Territories()
	s.HandleSnapshot(context.Background(), 50, models.TerritoryMap{"Gamma": guildTerritory("g9")})

	if !s.NeedsLiveResync() {
		t.Error("seq-bearing snapshot in history mode should flag resync")
	}
	if _, ok := s.Territories()["Gamma"]; ok {
		t.Error("snapshot mutated the historical map")
	}
	if len(s.Territories()) != len(visible) {
		t.Error("historical map changed size")
	}
}

func TestUpdatesWhileHistoryAreBuffered(t *testing.T) {
	api := &fakeAPI{bounds: models.HistoryBounds{}}
	s := liveSession(api)
	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}

	s.HandleUpdate(context.Background(), 12, []models.TerritoryChange{changeFor("Alpha", "g2")})
	s.HandleUpdate(context.Background(), 11, []models.TerritoryChange{changeFor("Alpha", "g3")})
	s.HandleUpdate(context.Background(), 12, []models.TerritoryChange{changeFor("Alpha", "g4")}) // duplicate seq

	buffered := s.BufferedUpdates()
	if len(buffered) != 2 {
		t.Fatalf("buffer length = %d, want 2", len(buffered))
	}
	if buffered[0].Seq != 11 || buffered[1].Seq != 12 {
		t.Errorf("buffer not sorted by seq: %d, %d", buffered[0].Seq, buffered[1].Seq)
	}
	if s.Territories()["Alpha"].Guild.UUID == "g2" {
		t.Error("buffered update mutated the visible map")
	}
}

func TestLegacyUpdateWhileHistoryForcesResync(t *testing.T) {
	api := &fakeAPI{bounds: models.HistoryBounds{}}
	s := liveSession(api)
	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}

	s.HandleUpdate(context.Background(), 0, []models.TerritoryChange{changeFor("Alpha", "g2")})

	if !s.NeedsLiveResync() {
		t.Error("legacy update in history mode must force a handoff resync")
	}
	if len(s.BufferedUpdates()) != 0 {
		t.Error("legacy update must not enter the seq-keyed buffer")
	}
}

func TestBufferOverflowDrainsOldestAndFlagsResync(t *testing.T) {
	s := New(&fakeAPI{})
	s.mu.Lock()
	s.bufferModeActive = true
	for seq := uint64(1); seq <= MaxBufferedUpdates; seq++ {
		s.buffered = append(s.buffered, BufferedUpdate{Seq: seq})
	}
	s.bufferSizeMax = len(s.buffered)
	s.mu.Unlock()

	s.HandleUpdate(context.Background(), MaxBufferedUpdates+1, nil)

	buffered := s.BufferedUpdates()
	if len(buffered) != MaxBufferedUpdates {
		t.Errorf("buffer length = %d, want cap %d", len(buffered), MaxBufferedUpdates)
	}
	if buffered[0].Seq != 2 {
		t.Errorf("oldest entry = seq %d, want 2 (seq 1 drained)", buffered[0].Seq)
	}
	if !s.NeedsLiveResync() {
		t.Error("overflow must flag needs_live_resync")
	}
	if s.CountersSnapshot().BufferOverflows != 1 {
		t.Errorf("overflow counter = %d, want 1", s.CountersSnapshot().BufferOverflows)
	}
}

func TestEnterHistoryBoundsFailureRevertsToLive(t *testing.T) {
	api := &fakeAPI{boundsErr: errors.New("503 service unavailable")}
	s := liveSession(api)

	if err := s.EnterHistory(context.Background()); err == nil {
		t.Error("EnterHistory() should surface the bounds error")
	}

	if s.Mode() != ModeLive {
		t.Error("session should revert to live mode")
	}
	if len(s.BufferedUpdates()) != 0 {
		t.Error("buffer should be cleared on revert")
	}
}

func TestEnterHistoryCapturesGeometryAndAppliesSnapshot(t *testing.T) {
	api := &fakeAPI{
		bounds: models.HistoryBounds{EventCount: 5},
		at: models.HistorySnapshot{
			Timestamp: "2026-07-01T10:00:00Z",
			Ownership: map[string]models.OwnershipRecord{
				"Alpha": {GuildUUID: "g0", GuildName: "Guild g0", GuildPrefix: "G", AcquiredAt: "2026-06-01T00:00:00Z"},
				// No geometry captured for this one; it must be skipped.
				"Unknown": {GuildUUID: "gX", GuildName: "Guild gX", GuildPrefix: "G", AcquiredAt: "2026-06-01T00:00:00Z"},
			},
		},
	}
	s := liveSession(api)

	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}

	if s.Mode() != ModeHistory {
		t.Fatal("mode should be history")
	}
	visible := s.Territories()
	if visible["Alpha"].Guild.UUID != "g0" {
		t.Errorf("historical owner = %s, want g0", visible["Alpha"].Guild.UUID)
	}
	if _, ok := visible["Unknown"]; ok {
		t.Error("territory without geometry should be skipped")
	}
	// Geometry comes from the live map captured at entry.
	if visible["Alpha"].Location != (models.Region{Start: [2]int32{0, 0}, End: [2]int32{10, 10}}) {
		t.Errorf("geometry not preserved: %+v", visible["Alpha"].Location)
	}
}

func TestHistoryToLiveHandoffWithBufferedUpdates(t *testing.T) {
	// Scenario: enter history at server seq 100; buffer collects 101..103;
	// live/state returns seq 102. The final map must equal the snapshot at
	// 102 with update 103 applied on top.
	api := &fakeAPI{
		bounds: models.HistoryBounds{EventCount: 1},
		at:     models.HistorySnapshot{Timestamp: "2026-07-01T10:00:00Z", Ownership: map[string]models.OwnershipRecord{}},
		liveState: models.LiveState{
			Seq:       102,
			Timestamp: "2026-07-01T12:00:00Z",
			Territories: models.TerritoryMap{
				"Alpha": guildTerritory("g102"),
				"Beta":  guildTerritory("gB"),
			},
		},
	}
	s := New(&fakeAPI{})
	s.api = api
	s.HandleSnapshot(context.Background(), 100, models.TerritoryMap{"Alpha": guildTerritory("g1")})

	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}

	s.HandleUpdate(context.Background(), 101, []models.TerritoryChange{changeFor("Alpha", "g101")})
	s.HandleUpdate(context.Background(), 102, []models.TerritoryChange{changeFor("Alpha", "g102")})
	s.HandleUpdate(context.Background(), 103, []models.TerritoryChange{changeFor("Alpha", "g103")})

	if err := s.ExitHistory(context.Background()); err != nil {
		t.Fatalf("ExitHistory() failed: %v", err)
	}

	if s.Mode() != ModeLive {
		t.Fatal("mode should be live after handoff")
	}
	// Updates 101 and 102 are already folded into the snapshot (seq ≤ 102)
	// and must not re-apply; 103 applies on top.
	if got := s.Territories()["Alpha"].Guild.UUID; got != "g103" {
		t.Errorf("final owner = %s, want g103", got)
	}
	if _, ok := s.Territories()["Beta"]; !ok {
		t.Error("snapshot content lost during handoff")
	}
	if seq, _ := s.LastLiveSeq(); seq != 103 {
		t.Errorf("last_live_seq = %d, want 103", seq)
	}
	if len(s.BufferedUpdates()) != 0 {
		t.Error("buffer should be cleared after handoff")
	}
	if s.CountersSnapshot().LiveHandoffResync != 1 {
		t.Errorf("handoff counter = %d, want 1", s.CountersSnapshot().LiveHandoffResync)
	}
	if s.NeedsLiveResync() {
		t.Error("clean handoff should not flag resync")
	}
}

func TestHandoffFailureFallsBackToPlainSnapshot(t *testing.T) {
	api := &fakeAPI{
		bounds:       models.HistoryBounds{EventCount: 1},
		at:           models.HistorySnapshot{Timestamp: "2026-07-01T10:00:00Z", Ownership: map[string]models.OwnershipRecord{}},
		liveStateErr: errors.New("connection refused"),
		territories:  models.TerritoryMap{"Alpha": guildTerritory("gFallback")},
	}
	s := liveSession(api)
	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}
	s.HandleUpdate(context.Background(), 11, []models.TerritoryChange{changeFor("Alpha", "g11")})

	_ = s.ExitHistory(context.Background())

	if s.Mode() != ModeLive {
		t.Fatal("mode should be live after fallback")
	}
	if s.Territories()["Alpha"].Guild.UUID != "gFallback" {
		t.Errorf("fallback map owner = %s", s.Territories()["Alpha"].Guild.UUID)
	}
	if _, ok := s.LastLiveSeq(); ok {
		t.Error("fallback must clear seq tracking")
	}
	if !s.NeedsLiveResync() {
		t.Error("fallback must flag needs_live_resync")
	}
	if len(s.BufferedUpdates()) != 0 {
		t.Error("buffer should be cleared on fallback")
	}
}

func TestResyncBackoffCurve(t *testing.T) {
	tests := []struct {
		failures uint32
		want     time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 10 * time.Second}, // 16s capped
		{7, 10 * time.Second},
		{100, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := resyncBackoff(tt.failures); got != tt.want {
			t.Errorf("resyncBackoff(%d) = %s, want %s", tt.failures, got, tt.want)
		}
	}
}

func TestResyncGateRespectsBackoffWindow(t *testing.T) {
	api := &fakeAPI{liveStateErr: errors.New("boom")}
	s := liveSession(api)

	current := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.TriggerResync(context.Background())
	if api.liveStateCalls != 1 {
		t.Fatalf("first resync calls = %d, want 1", api.liveStateCalls)
	}

	// Within the 500ms backoff window: gated.
	current = current.Add(100 * time.Millisecond)
	s.TriggerResync(context.Background())
	if api.liveStateCalls != 1 {
		t.Errorf("gated resync still called API (%d calls)", api.liveStateCalls)
	}

	// After the window: allowed again.
	current = current.Add(500 * time.Millisecond)
	s.TriggerResync(context.Background())
	if api.liveStateCalls != 2 {
		t.Errorf("post-backoff resync calls = %d, want 2", api.liveStateCalls)
	}
}

func TestResyncSuccessResetsRetryState(t *testing.T) {
	api := &fakeAPI{liveStateErr: errors.New("boom")}
	s := liveSession(api)

	current := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.TriggerResync(context.Background())
	api.liveStateErr = nil
	api.liveState = models.LiveState{Seq: 11, Territories: models.TerritoryMap{"Alpha": guildTerritory("g2")}}

	current = current.Add(time.Second)
	s.TriggerResync(context.Background())

	if s.NeedsLiveResync() {
		t.Error("successful resync should clear the flag")
	}
	s.mu.Lock()
	failures := s.retry.consecutiveFailures
	s.mu.Unlock()
	if failures != 0 {
		t.Errorf("failures = %d, want 0 after success", failures)
	}
}

func TestResyncIgnoredInHistoryMode(t *testing.T) {
	api := &fakeAPI{bounds: models.HistoryBounds{}}
	s := liveSession(api)
	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}

	before := api.liveStateCalls
	s.TriggerResync(context.Background())
	if api.liveStateCalls != before {
		t.Error("resync must not fire in history mode")
	}
}

func TestConnectionLostFlagsResyncAndReconnectRecovers(t *testing.T) {
	api := &fakeAPI{liveState: models.LiveState{Seq: 20, Territories: models.TerritoryMap{"Alpha": guildTerritory("g3")}}}
	s := liveSession(api)

	s.OnConnectionLost()
	if s.Connection() != StatusReconnecting || !s.NeedsLiveResync() {
		t.Error("disconnect should flag reconnecting + resync")
	}

	s.OnConnectionOpen(context.Background())
	if s.Connection() != StatusLive {
		t.Error("open should mark the stream live")
	}
	if api.liveStateCalls != 1 {
		t.Errorf("resync calls on reconnect = %d, want 1", api.liveStateCalls)
	}
	if seq, _ := s.LastLiveSeq(); seq != 20 {
		t.Errorf("seq after reconnect resync = %d, want 20", seq)
	}
}

func TestMergeWithStaticPrefersRecordColorThenTable(t *testing.T) {
	geometry := map[string]Geometry{
		"Alpha": {Location: models.Region{Start: [2]int32{0, 0}, End: [2]int32{5, 5}}},
		"Beta":  {Location: models.Region{Start: [2]int32{5, 5}, End: [2]int32{9, 9}}},
	}
	colors := map[string]models.RGB{"Guild Two": {9, 9, 9}}
	snapshot := models.HistorySnapshot{
		Timestamp: "2026-07-01T10:00:00Z",
		Ownership: map[string]models.OwnershipRecord{
			"Alpha": {GuildUUID: "g1", GuildName: "Guild One", GuildPrefix: "G1",
				GuildColor: &models.RGB{1, 2, 3}, AcquiredAt: "2026-06-01T00:00:00Z"},
			"Beta": {GuildUUID: "g2", GuildName: "Guild Two", GuildPrefix: "G2",
				AcquiredAt: "2026-06-01T00:00:00Z"},
		},
	}

	merged := MergeWithStatic(snapshot, geometry, colors)

	if merged["Alpha"].Guild.Color == nil || *merged["Alpha"].Guild.Color != (models.RGB{1, 2, 3}) {
		t.Errorf("record color not preferred: %v", merged["Alpha"].Guild.Color)
	}
	if merged["Beta"].Guild.Color == nil || *merged["Beta"].Guild.Color != (models.RGB{9, 9, 9}) {
		t.Errorf("color table not consulted: %v", merged["Beta"].Guild.Color)
	}
}

func TestApplyOrderEquivalence(t *testing.T) {
	// Invariant 4: applying updates with seq > last in order yields the same
	// map as a live/state snapshot plus the updates with seq > snapshot.seq.
	updates := []BufferedUpdate{
		{Seq: 11, Changes: []models.TerritoryChange{changeFor("Alpha", "g11")}},
		{Seq: 12, Changes: []models.TerritoryChange{changeFor("Beta", "g12")}},
		{Seq: 13, Changes: []models.TerritoryChange{changeFor("Alpha", "g13")}},
	}

	// Path A: incremental application from seq 10.
	incremental := models.TerritoryMap{"Alpha": guildTerritory("g1"), "Beta": guildTerritory("g2")}
	for _, update := range updates {
		applyChanges(incremental, update.Changes)
	}

	// Path B: snapshot at seq 12 (updates 11-12 folded in) plus replay of 13.
	snapshot := models.TerritoryMap{"Alpha": guildTerritory("g11"), "Beta": guildTerritory("g12")}
	for _, update := range ReplayUpdatesAfterSeq(12, updates) {
		applyChanges(snapshot, update.Changes)
	}

	for _, name := range []string{"Alpha", "Beta"} {
		if incremental[name].Guild.UUID != snapshot[name].Guild.UUID {
			t.Errorf("%s differs: incremental %s vs snapshot+replay %s",
				name, incremental[name].Guild.UUID, snapshot[name].Guild.UUID)
		}
	}
	if incremental["Alpha"].Guild.UUID != "g13" {
		t.Errorf("final Alpha owner = %s, want g13", incremental["Alpha"].Guild.UUID)
	}
}

func TestScrubRefetchesAtTargetAndPausesPlayback(t *testing.T) {
	api := &fakeAPI{
		bounds: models.HistoryBounds{EventCount: 1},
		at:     models.HistorySnapshot{Timestamp: "t", Ownership: map[string]models.OwnershipRecord{}},
	}
	s := liveSession(api)
	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}

	atCallsBefore := api.atCalls
	target := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	if err := s.Scrub(context.Background(), target); err != nil {
		t.Fatalf("Scrub() failed: %v", err)
	}

	if api.atCalls != atCallsBefore+1 {
		t.Errorf("at calls = %d, want %d", api.atCalls, atCallsBefore+1)
	}
	if ts, ok := s.HistoryTimestamp(); !ok || !ts.Equal(target) {
		t.Errorf("history timestamp = %v, %v", ts, ok)
	}
	if s.PlaybackActive() {
		t.Error("scrub should pause playback")
	}
}

func TestBufferedUpdatesSurviveFailedHistoryFetch(t *testing.T) {
	api := &fakeAPI{
		bounds: models.HistoryBounds{EventCount: 1},
		at:     models.HistorySnapshot{Timestamp: "t", Ownership: map[string]models.OwnershipRecord{}},
	}
	s := liveSession(api)
	if err := s.EnterHistory(context.Background()); err != nil {
		t.Fatalf("EnterHistory() failed: %v", err)
	}

	s.HandleUpdate(context.Background(), 11, []models.TerritoryChange{changeFor("Alpha", "g11")})

	// A failed scrub keeps the displayed state and the buffer.
	api.atErr = fmt.Errorf("HTTP 500")
	visible := s.Territories()
	_ = s.Scrub(context.Background(), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))

	if len(s.Territories()) != len(visible) {
		t.Error("failed fetch altered the displayed state")
	}
	if len(s.BufferedUpdates()) != 1 {
		t.Error("failed fetch dropped the buffer")
	}
	if s.Mode() != ModeHistory {
		t.Error("failed fetch should not alter mode")
	}
}
