package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/trip-sync/internal/backend"
	"github.com/example/trip-sync/internal/models"
	"github.com/example/trip-sync/internal/snapshot"
	"github.com/example/trip-sync/internal/trip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSettler struct {
	captured    int
	deducted    int
	captureErr  error
	deductErr   error
	lastTripIDs []string
}

func (f *fakeSettler) CapturePayment(ctx context.Context, t *models.Trip) error {
	f.captured++
	f.lastTripIDs = append(f.lastTripIDs, t.ID)
	return f.captureErr
}

func (f *fakeSettler) DeductCommission(ctx context.Context, t *models.Trip) error {
	f.deducted++
	return f.deductErr
}

type fakeWallet struct{ balance int64 }

func (f *fakeWallet) Balance(ctx context.Context, actorID string) (int64, error) {
	return f.balance, nil
}

var testRequest = RequestInput{
	OriginAddress: "Abay 10",
	OriginLat:     43.238949,
	OriginLng:     76.889709,
	DestAddress:   "Dostyk 97",
	DestLat:       43.21,
	DestLng:       76.95,
	ServiceType:   "drive",
	PaymentMethod: "cash",
	DistanceKm:    5,
	DurationMin:   15,
	DemandFactor:  1.0,
}

func TestEndToEndLifecycle(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	settler := &fakeSettler{}

	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger(), WithSettler(settler))

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, out.State)
	require.Equal(t, models.StatusRequesting, out.Trip.Status)
	require.EqualValues(t, 1, out.Trip.Version)

	candidate, err := be.GetTrip(ctx, out.Trip.ID)
	require.NoError(t, err)

	out, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, out.State)
	require.Equal(t, models.StatusAccepted, out.Trip.Status)
	require.EqualValues(t, 2, out.Trip.Version)
	require.Equal(t, "d1", out.Trip.FulfillerID)

	out, err = fulfiller.Arrive(ctx, testRequest.OriginLat, testRequest.OriginLng, 0)
	require.NoError(t, err)
	require.Equal(t, models.StatusArrived, out.Trip.Status)
	require.EqualValues(t, 3, out.Trip.Version)

	out, err = fulfiller.Start(ctx, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, out.Trip.Status)
	require.EqualValues(t, 4, out.Trip.Version)

	out, err = fulfiller.Complete(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, out.State)
	require.Equal(t, models.StatusCompleted, out.Trip.Status)
	require.EqualValues(t, 5, out.Trip.Version)
	require.Equal(t, 1, settler.captured)
	require.Equal(t, 1, settler.deducted)
}

func TestClaimLoserDropsLocalAttempt(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	requester := New(be, models.RoleRequester, "r1", testLogger())
	d1 := New(be, models.RoleFulfiller, "d1", testLogger())
	d2 := New(be, models.RoleFulfiller, "d2", testLogger())

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	candidate, err := be.GetTrip(ctx, out.Trip.ID)
	require.NoError(t, err)

	_, err = d1.Claim(ctx, candidate)
	require.NoError(t, err)

	_, err = d2.Claim(ctx, candidate)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Nil(t, d2.Trip(), "loser must drop the local claim attempt")
	require.Equal(t, "d1", d1.Trip().FulfillerID)
}

func TestConflictRevertsOptimisticMutation(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger())

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	candidate, _ := be.GetTrip(ctx, out.Trip.ID)
	_, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)

	// a competing writer bumps the row behind the fulfiller's back
	remote, _ := be.GetTrip(ctx, out.Trip.ID)
	bumped := remote.Clone()
	bumped.Version++
	ok, err := be.UpdateTrip(ctx, bumped, remote.Version)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = fulfiller.Arrive(ctx, testRequest.OriginLat, testRequest.OriginLng, 0)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, models.StatusAccepted, fulfiller.Trip().Status, "optimistic ARRIVED must be reverted")
}

// feedRacingBackend loses every conditional write, but first hands the
// store a newer row as if the change feed delivered it mid-flight.
type feedRacingBackend struct {
	*backend.Memory
	st     *Store
	remote *models.Trip
}

func (b *feedRacingBackend) UpdateTrip(ctx context.Context, t *models.Trip, expectedVersion int64) (bool, error) {
	b.deliver()
	return false, nil
}

func (b *feedRacingBackend) ClaimTrip(ctx context.Context, tripID, fulfillerID string) (bool, error) {
	b.deliver()
	return false, nil
}

func (b *feedRacingBackend) deliver() {
	if b.remote != nil {
		b.st.ApplyRemote(b.remote)
		b.remote = nil
	}
}

func TestConflictRevertKeepsNewerRemoteRow(t *testing.T) {
	ctx := context.Background()
	rb := &feedRacingBackend{Memory: backend.NewMemory()}
	st := New(rb, models.RoleFulfiller, "d1", testLogger())
	rb.st = st

	accepted := &models.Trip{
		ID: "t1", Status: models.StatusAccepted, Version: 2,
		RequesterID: "r1", FulfillerID: "d1",
		OriginLat: testRequest.OriginLat, OriginLng: testRequest.OriginLng,
	}
	st.AdoptTrip(accepted)

	cancelled := accepted.Clone()
	cancelled.Status = models.StatusCancelled
	cancelled.Version = 4
	rb.remote = cancelled

	_, err := st.Arrive(ctx, testRequest.OriginLat, testRequest.OriginLng, 0)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	// the merged v4 row must survive the conflict revert
	cur := st.Trip()
	require.Equal(t, models.StatusCancelled, cur.Status)
	require.EqualValues(t, 4, cur.Version)
}

func TestClaimLossKeepsNewerRemoteRow(t *testing.T) {
	ctx := context.Background()
	rb := &feedRacingBackend{Memory: backend.NewMemory()}
	st := New(rb, models.RoleFulfiller, "d1", testLogger())
	rb.st = st

	candidate := &models.Trip{ID: "t1", Status: models.StatusRequesting, Version: 1, RequesterID: "r1"}
	claimed := candidate.Clone()
	claimed.Status = models.StatusAccepted
	claimed.Version = 3
	claimed.FulfillerID = "d9"
	rb.remote = claimed

	_, err := st.Claim(ctx, candidate)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	cur := st.Trip()
	require.NotNil(t, cur)
	require.Equal(t, "d9", cur.FulfillerID)
	require.EqualValues(t, 3, cur.Version)
}

func TestVersionNeverRegresses(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	st := New(be, models.RoleRequester, "r1", testLogger())

	out, err := st.Request(ctx, testRequest)
	require.NoError(t, err)
	tripID := out.Trip.ID

	stale := out.Trip.Clone()
	stale.Status = models.StatusCancelled
	stale.Version = 1 // equal to local
	require.False(t, st.ApplyRemote(stale), "equal-version event must be discarded")
	require.Equal(t, models.StatusRequesting, st.Trip().Status)

	older := out.Trip.Clone()
	older.Version = 0
	require.False(t, st.ApplyRemote(older))

	newer := out.Trip.Clone()
	newer.ID = tripID
	newer.Status = models.StatusAccepted
	newer.FulfillerID = "d1"
	newer.Version = 2
	require.True(t, st.ApplyRemote(newer))
	require.EqualValues(t, 2, st.Trip().Version)
}

func TestSettlementFailureDoesNotRevertCompletion(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	settler := &fakeSettler{captureErr: errors.New("card declined")}
	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger(), WithSettler(settler))

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	candidate, _ := be.GetTrip(ctx, out.Trip.ID)
	_, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)
	_, err = fulfiller.Arrive(ctx, testRequest.OriginLat, testRequest.OriginLng, 0)
	require.NoError(t, err)
	_, err = fulfiller.Start(ctx, "")
	require.NoError(t, err)

	out, err = fulfiller.Complete(ctx)
	require.NoError(t, err, "settlement failure is not a transition failure")
	require.Equal(t, OutcomeNeedsReconciliation, out.State)
	require.Equal(t, models.StatusCompleted, fulfiller.Trip().Status)

	var audited bool
	for _, ev := range be.Events() {
		if ev.EventType == "settlement_payment_failed" {
			audited = true
		}
	}
	require.True(t, audited, "settlement failure must leave an audit event")
}

func TestPinGuardOnStart(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger())

	in := testRequest
	in.SecurityPin = "7777"
	out, err := requester.Request(ctx, in)
	require.NoError(t, err)
	candidate, _ := be.GetTrip(ctx, out.Trip.ID)
	_, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)
	_, err = fulfiller.Arrive(ctx, in.OriginLat, in.OriginLng, 0)
	require.NoError(t, err)

	_, err = fulfiller.Start(ctx, "1234")
	require.Error(t, err)
	require.Equal(t, models.StatusArrived, fulfiller.Trip().Status, "pin mismatch must not leave the local copy started")

	_, err = fulfiller.Start(ctx, "7777")
	require.NoError(t, err)
}

func TestRequestRejectsMalformedPin(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	st := New(be, models.RoleRequester, "r1", testLogger())

	for _, pin := range []string{"123", "12345", "12a4"} {
		in := testRequest
		in.SecurityPin = pin
		_, err := st.Request(ctx, in)
		require.ErrorIs(t, err, trip.ErrPinFormat, "pin %q", pin)
		require.Nil(t, st.Trip())
	}
}

func TestUnclaimedRequestExpires(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	cur := time.Now()
	st := New(be, models.RoleRequester, "r1", testLogger(),
		WithClock(func() time.Time { return cur }),
		WithRequestTimeout(15*time.Minute))

	out, err := st.Request(ctx, testRequest)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, out.State)

	// before the timeout the request stays open
	expired, err := st.ExpireRequest(ctx)
	require.NoError(t, err)
	require.Empty(t, expired.State)
	require.Equal(t, models.StatusRequesting, st.Trip().Status)

	cur = cur.Add(15 * time.Minute)
	expired, err = st.ExpireRequest(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, expired.State)
	require.Equal(t, models.StatusCancelled, st.Trip().Status)

	row, err := be.GetTrip(ctx, out.Trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, row.Status)
	require.EqualValues(t, 2, row.Version)
}

func TestExpireLeavesClaimedTripAlone(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	cur := time.Now()
	st := New(be, models.RoleRequester, "r1", testLogger(),
		WithClock(func() time.Time { return cur }),
		WithRequestTimeout(15*time.Minute))

	out, err := st.Request(ctx, testRequest)
	require.NoError(t, err)

	claimed := out.Trip.Clone()
	claimed.Status = models.StatusAccepted
	claimed.Version = 2
	claimed.FulfillerID = "d1"
	require.True(t, st.ApplyRemote(claimed))

	cur = cur.Add(time.Hour)
	expired, err := st.ExpireRequest(ctx)
	require.NoError(t, err)
	require.Empty(t, expired.State)
	require.Equal(t, models.StatusAccepted, st.Trip().Status)
}

func TestWalletBalanceValidatedLocally(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	st := New(be, models.RoleRequester, "r1", testLogger(), WithWallet(&fakeWallet{balance: 10}))

	in := testRequest
	in.PaymentMethod = "wallet"
	_, err := st.Request(ctx, in)
	require.ErrorIs(t, err, ErrLowBalance)
	require.Nil(t, st.Trip(), "validation errors must precede any local mutation")

	// nothing reached the backend
	_, err = be.ActiveTripFor(ctx, "r1", models.RoleRequester)
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestOfflineRequestQueuesAndReplays(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	st := New(be, models.RoleRequester, "r1", testLogger())

	require.NoError(t, st.SetOnline(ctx, false))
	out, err := st.Request(ctx, testRequest)
	require.NoError(t, err)
	require.Equal(t, OutcomePending, out.State)
	require.Equal(t, 1, st.QueueDepth())

	_, err = be.GetTrip(ctx, out.Trip.ID)
	require.ErrorIs(t, err, backend.ErrNotFound, "offline action must not reach the backend")

	require.NoError(t, st.SetOnline(ctx, true))
	require.Equal(t, 0, st.QueueDepth())
	got, err := be.GetTrip(ctx, out.Trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRequesting, got.Status)
}

func TestOfflineReplayOrderAndSettlement(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	settler := &fakeSettler{}
	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger(), WithSettler(settler))

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	candidate, _ := be.GetTrip(ctx, out.Trip.ID)
	_, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)

	// connectivity drops; the remaining lifecycle happens blind
	require.NoError(t, fulfiller.SetOnline(ctx, false))
	_, err = fulfiller.Arrive(ctx, testRequest.OriginLat, testRequest.OriginLng, 0)
	require.NoError(t, err)
	_, err = fulfiller.Start(ctx, "")
	require.NoError(t, err)
	_, err = fulfiller.Complete(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, fulfiller.QueueDepth())
	require.Zero(t, settler.captured, "settlement must not run while offline")

	require.NoError(t, fulfiller.SetOnline(ctx, true))
	require.Equal(t, 0, fulfiller.QueueDepth())

	got, err := be.GetTrip(ctx, out.Trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)
	require.EqualValues(t, 5, got.Version)
	require.Equal(t, 1, settler.captured, "replayed completion settles on confirmation")
	require.Equal(t, 1, settler.deducted)
}

type flakyBackend struct {
	*backend.Memory
	failUpdates bool
}

func (f *flakyBackend) UpdateTrip(ctx context.Context, t *models.Trip, expectedVersion int64) (bool, error) {
	if f.failUpdates {
		return false, errors.New("backend unavailable")
	}
	return f.Memory.UpdateTrip(ctx, t, expectedVersion)
}

func TestReplayConflictClearsQueueAndAdoptsRemote(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger())

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	candidate, _ := be.GetTrip(ctx, out.Trip.ID)
	_, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)

	require.NoError(t, fulfiller.SetOnline(ctx, false))
	_, err = fulfiller.Arrive(ctx, testRequest.OriginLat, testRequest.OriginLng, 0)
	require.NoError(t, err)

	// the requester hears about the claim, then cancels while the
	// fulfiller is dark
	remote, _ := be.GetTrip(ctx, out.Trip.ID)
	require.True(t, requester.ApplyRemote(remote))
	_, err = requester.Cancel(ctx, "fulfiller unreachable")
	require.NoError(t, err)

	err = fulfiller.SetOnline(ctx, true)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, 0, fulfiller.QueueDepth(), "items chained off a lost write can never apply")
	require.Equal(t, models.StatusCancelled, fulfiller.Trip().Status, "the committed row is adopted")
}

func TestUndrainedQueueBlocksOnlineActions(t *testing.T) {
	ctx := context.Background()
	be := &flakyBackend{Memory: backend.NewMemory()}
	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger())

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	candidate, _ := be.GetTrip(ctx, out.Trip.ID)
	_, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)

	require.NoError(t, fulfiller.SetOnline(ctx, false))
	_, err = fulfiller.Arrive(ctx, testRequest.OriginLat, testRequest.OriginLng, 0)
	require.NoError(t, err)

	be.failUpdates = true
	require.Error(t, fulfiller.SetOnline(ctx, true), "replay against a dead backend must surface the error")
	require.Equal(t, 1, fulfiller.QueueDepth())

	// new submissions would write past the stuck item with stale versions
	_, err = fulfiller.Start(ctx, "")
	require.ErrorIs(t, err, ErrQueueBlocked)

	be.failUpdates = false
	require.NoError(t, fulfiller.Replay(ctx))
	require.Equal(t, 0, fulfiller.QueueDepth())
	_, err = fulfiller.Start(ctx, "")
	require.NoError(t, err)
}

func TestRehydrateAdoptsBackendTrip(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	snapPath := filepath.Join(t.TempDir(), "snap.db")

	snap1, err := snapshot.Open(snapPath)
	require.NoError(t, err)
	st1 := New(be, models.RoleRequester, "r1", testLogger(), WithSnapshot(snap1))
	out, err := st1.Request(ctx, testRequest)
	require.NoError(t, err)
	require.NoError(t, snap1.Close())

	// the trip advanced while this client was down
	remote, _ := be.GetTrip(ctx, out.Trip.ID)
	advanced := remote.Clone()
	advanced.Status = models.StatusAccepted
	advanced.FulfillerID = "d1"
	advanced.Version = 2
	ok, err := be.UpdateTrip(ctx, advanced, 1)
	require.NoError(t, err)
	require.True(t, ok)

	snap2, err := snapshot.Open(snapPath)
	require.NoError(t, err)
	defer snap2.Close()
	st2 := New(be, models.RoleRequester, "r1", testLogger(), WithSnapshot(snap2))
	require.NoError(t, st2.Rehydrate(ctx))
	require.NotNil(t, st2.Trip())
	require.Equal(t, models.StatusAccepted, st2.Trip().Status)
	require.EqualValues(t, 2, st2.Trip().Version)
}

func TestRehydrateReplaysRestoredQueue(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	snapPath := filepath.Join(t.TempDir(), "snap.db")

	snap1, err := snapshot.Open(snapPath)
	require.NoError(t, err)
	st1 := New(be, models.RoleRequester, "r1", testLogger(), WithSnapshot(snap1))
	require.NoError(t, st1.SetOnline(ctx, false))
	out, err := st1.Request(ctx, testRequest)
	require.NoError(t, err)
	require.Equal(t, OutcomePending, out.State)
	require.NoError(t, snap1.Close())

	// restart: the queued create must reach the backend during rehydrate
	snap2, err := snapshot.Open(snapPath)
	require.NoError(t, err)
	defer snap2.Close()
	st2 := New(be, models.RoleRequester, "r1", testLogger(), WithSnapshot(snap2))
	require.NoError(t, st2.Rehydrate(ctx))
	require.Equal(t, 0, st2.QueueDepth())

	got, err := be.GetTrip(ctx, out.Trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRequesting, got.Status)
}

func TestDiscardTerminalClearsWorkingCopy(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	st := New(be, models.RoleRequester, "r1", testLogger())

	_, err := st.Request(ctx, testRequest)
	require.NoError(t, err)
	_, err = st.Cancel(ctx, "changed my mind")
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, st.Trip().Status)

	st.DiscardTerminal()
	require.Nil(t, st.Trip())
}

func TestAddStopRepricesTrip(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger())

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	candidate, _ := be.GetTrip(ctx, out.Trip.ID)
	_, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)

	before := fulfiller.Trip()
	out, err = fulfiller.AddStop(ctx, AddStopInput{Address: "Satpayev 30", DeltaKm: 1, DeltaMin: 2})
	require.NoError(t, err)
	require.Len(t, out.Trip.Stops, 1)
	require.EqualValues(t, 75, out.Trip.Stops[0].ImpactCost)
	require.Equal(t, before.Price+75, out.Trip.Price)
	require.EqualValues(t, before.Version+1, out.Trip.Version)
	require.Equal(t, before.OriginalPrice, out.Trip.OriginalPrice, "original price is immutable")
}

func TestTickWaitingAccrues(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()
	requester := New(be, models.RoleRequester, "r1", testLogger())
	fulfiller := New(be, models.RoleFulfiller, "d1", testLogger())

	out, err := requester.Request(ctx, testRequest)
	require.NoError(t, err)
	candidate, _ := be.GetTrip(ctx, out.Trip.ID)
	_, err = fulfiller.Claim(ctx, candidate)
	require.NoError(t, err)

	// waiting only accrues once arrived
	_, err = fulfiller.TickWaiting(ctx)
	require.Error(t, err)

	_, err = fulfiller.Arrive(ctx, testRequest.OriginLat, testRequest.OriginLng, 0)
	require.NoError(t, err)
	before := fulfiller.Trip()
	out, err = fulfiller.TickWaiting(ctx)
	require.NoError(t, err)
	require.Equal(t, before.WaitingTimeMinutes+1, out.Trip.WaitingTimeMinutes)
	require.Equal(t, before.WaitingTimeCost+1, out.Trip.WaitingTimeCost)
	require.Equal(t, before.Price+1, out.Trip.Price)
}
