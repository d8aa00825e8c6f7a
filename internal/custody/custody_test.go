// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package custody

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/localstore"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/remotestore"
	"github.com/keyward/keyward/internal/security"
	"github.com/keyward/keyward/internal/statestore"
)

// fakeClock is settable so tests can move past session expiries.
type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// fakeStore is an in-memory remotestore.Store that records calls and can
// inject failures per method.
type fakeStore struct {
	keys     map[string]model.EncryptedKeyRecord // keyed user|name
	sessions map[string]model.ExecutionSession
	tokens   map[string]string

	revokeCalls int
	failUpsert  error
	failInsert  error
	failRevoke  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		keys:     make(map[string]model.EncryptedKeyRecord),
		sessions: make(map[string]model.ExecutionSession),
		tokens:   make(map[string]string),
	}
}

func (f *fakeStore) UpsertKeyRecord(_ context.Context, rec model.EncryptedKeyRecord) error {
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.keys[rec.UserID+"|"+rec.KeyName] = rec
	return nil
}

func (f *fakeStore) GetKeyRecord(_ context.Context, userID, keyName string) (*model.EncryptedKeyRecord, error) {
	rec, ok := f.keys[userID+"|"+keyName]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) DeleteKeyRecord(_ context.Context, userID, keyName string) error {
	delete(f.keys, userID+"|"+keyName)
	return nil
}

func (f *fakeStore) InsertSession(_ context.Context, sess model.ExecutionSession, token string) error {
	if f.failInsert != nil {
		return f.failInsert
	}
	f.sessions[sess.ID] = sess
	f.tokens[sess.ID] = token
	return nil
}

func (f *fakeStore) RevokeSession(_ context.Context, id string) error {
	f.revokeCalls++
	if f.failRevoke != nil {
		return f.failRevoke
	}
	if sess, ok := f.sessions[id]; ok {
		sess.Active = false
		f.sessions[id] = sess
	}
	return nil
}

func (f *fakeStore) RevokeAllSessions(_ context.Context, userID string) error {
	for id, sess := range f.sessions {
		if sess.UserID == userID {
			sess.Active = false
			f.sessions[id] = sess
		}
	}
	return nil
}

func (f *fakeStore) ActiveSession(_ context.Context, userID string, now time.Time) (*model.ExecutionSession, error) {
	var best *model.ExecutionSession
	for id := range f.sessions {
		sess := f.sessions[id]
		if sess.UserID != userID || !sess.Active || !now.Before(sess.ExpiresAt) {
			continue
		}
		if best == nil || sess.CreatedAt.After(best.CreatedAt) {
			best = &sess
		}
	}
	return best, nil
}

func (f *fakeStore) Close() error { return nil }

type fixture struct {
	mgr   *Manager
	store *fakeStore
	blobs *localstore.MemStore
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	blobs := localstore.NewMemStore()
	states := statestore.New(blobs, "u1")
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mgr := New(remotestore.Connected(store), states, identity.Static("u1"), WithClock(clock))
	return &fixture{mgr: mgr, store: store, blobs: blobs, clock: clock}
}

func TestToSession_CommitsSessionTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.mgr.ToSession(ctx, "blob", "salt", security.FromString("pw"), 8); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}

	st := f.mgr.State()
	if st.CurrentTier != model.TierSession {
		t.Fatalf("tier = %v, want session", st.CurrentTier)
	}
	if !st.KeysInRemoteStore || st.PasswordStoredInRemoteStore {
		t.Fatalf("remote flags wrong: %+v", st)
	}
	if st.Session == nil {
		t.Fatal("no session committed")
	}
	want := f.clock.Now().Add(8 * time.Hour)
	if !st.Session.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", st.Session.ExpiresAt, want)
	}

	rec := f.store.keys["u1|primary"]
	if rec.EncryptedBlob != "blob" || rec.EncryptionSalt != "salt" {
		t.Fatalf("uploaded record wrong: %+v", rec)
	}
	if rec.EncryptedPassword != nil {
		t.Fatal("session tier upload must not carry the sealed password")
	}
	if f.store.tokens[st.Session.ID] == "" {
		t.Fatal("no sealed token stored with session row")
	}
}

func TestToSession_DefaultDuration(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.ToSession(context.Background(), "b", "s", security.FromString("pw"), 0); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}
	st := f.mgr.State()
	want := f.clock.Now().Add(DefaultSessionHours * time.Hour)
	if !st.Session.ExpiresAt.Equal(want) {
		t.Fatalf("default expiry = %v, want %v", st.Session.ExpiresAt, want)
	}
}

func TestToSession_RemoteFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.store.failInsert = errors.New("db down")

	before := f.mgr.State()
	err := f.mgr.ToSession(context.Background(), "b", "s", security.FromString("pw"), 1)
	if err == nil {
		t.Fatal("ToSession succeeded despite insert failure")
	}
	if got := f.mgr.State(); got.CurrentTier != before.CurrentTier || got.Session != nil {
		t.Fatalf("state mutated on failed migration: %+v", got)
	}
}

// One-hour session: ~1.0 hours remain right after creation, and the session
// reads inactive once the clock moves past the deadline, with no background
// timer involved.
func TestSessionStatus_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.ToSession(context.Background(), "b", "s", security.FromString("pw"), 1); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}

	status := f.mgr.SessionStatus()
	if !status.Active {
		t.Fatal("fresh session inactive")
	}
	if status.RemainingHours < 0.99 || status.RemainingHours > 1.01 {
		t.Fatalf("remaining = %v, want ~1.0", status.RemainingHours)
	}
	if !f.mgr.UnattendedAllowed() {
		t.Fatal("unattended execution refused with active session")
	}

	f.clock.Advance(30 * time.Minute)
	mid := f.mgr.SessionStatus()
	if !mid.Active || mid.RemainingHours >= status.RemainingHours {
		t.Fatalf("remaining did not decrease: %v -> %v", status.RemainingHours, mid.RemainingHours)
	}

	f.clock.Advance(31 * time.Minute)
	if s := f.mgr.SessionStatus(); s.Active {
		t.Fatalf("session active past expiry: %+v", s)
	}
	if f.mgr.UnattendedAllowed() {
		t.Fatal("unattended execution allowed past expiry")
	}
}

func TestToPersistent_SupersedesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.mgr.ToSession(ctx, "b", "s", security.FromString("pw"), 1); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}

	if err := f.mgr.ToPersistent(ctx, "b", "s", security.FromString("pw")); err != nil {
		t.Fatalf("ToPersistent failed: %v", err)
	}

	st := f.mgr.State()
	if st.CurrentTier != model.TierPersistent || st.Session != nil {
		t.Fatalf("state after ToPersistent: %+v", st)
	}
	if !st.KeysInRemoteStore || !st.PasswordStoredInRemoteStore {
		t.Fatalf("remote flags wrong: %+v", st)
	}
	rec := f.store.keys["u1|primary"]
	if rec.EncryptedPassword == nil || *rec.EncryptedPassword == "" {
		t.Fatal("sealed password missing from key record")
	}
	if !f.mgr.UnattendedAllowed() {
		t.Fatal("persistent tier must allow unattended execution")
	}
}

func TestToLocal_ResetsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.mgr.ToSession(ctx, "b", "s", security.FromString("pw"), 1); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}
	sessID := f.mgr.State().Session.ID

	if err := f.mgr.ToLocal(ctx); err != nil {
		t.Fatalf("ToLocal failed: %v", err)
	}

	if st := f.mgr.State(); st != model.DefaultState() {
		t.Fatalf("state after ToLocal: %+v", st)
	}
	if _, ok := f.store.keys["u1|primary"]; ok {
		t.Fatal("key record survived ToLocal")
	}
	if f.store.sessions[sessID].Active {
		t.Fatal("session not revoked by ToLocal")
	}
}

func TestToLocal_Disconnected(t *testing.T) {
	blobs := localstore.NewMemStore()
	states := statestore.New(blobs, "u1")
	states.Set(model.SecurityTierState{CurrentTier: model.TierPersistent, KeysInRemoteStore: true, PasswordStoredInRemoteStore: true})
	mgr := New(remotestore.Disconnected(), states, identity.Static("u1"))

	if err := mgr.ToLocal(context.Background()); err != nil {
		t.Fatalf("ToLocal without remote store failed: %v", err)
	}
	if st := mgr.State(); st != model.DefaultState() {
		t.Fatalf("state not reset: %+v", st)
	}
}

func TestMigrations_RequireRemoteStore(t *testing.T) {
	mgr := New(remotestore.Disconnected(), statestore.New(localstore.NewMemStore(), "u1"), identity.Static("u1"))
	ctx := context.Background()
	pw := security.FromString("pw")

	if err := mgr.ToSession(ctx, "b", "s", pw, 1); !errors.Is(err, remotestore.ErrNotConnected) {
		t.Fatalf("ToSession error = %v, want ErrNotConnected", err)
	}
	if err := mgr.ToPersistent(ctx, "b", "s", pw); !errors.Is(err, remotestore.ErrNotConnected) {
		t.Fatalf("ToPersistent error = %v, want ErrNotConnected", err)
	}
}

func TestMigrations_RequireIdentity(t *testing.T) {
	f := newFixture(t)
	mgr := New(remotestore.Connected(f.store), statestore.New(localstore.NewMemStore(), ""), identity.Static(""))

	if err := mgr.ToSession(context.Background(), "b", "s", security.FromString("pw"), 1); !errors.Is(err, identity.ErrNoIdentity) {
		t.Fatalf("error = %v, want ErrNoIdentity", err)
	}
}

func TestEndSession_NoSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.EndSession(context.Background()); err != nil {
		t.Fatalf("EndSession with no session failed: %v", err)
	}
	if f.store.revokeCalls != 0 {
		t.Fatal("remote revoke attempted with no cached session")
	}
}

func TestEndSession_ClearsSessionKeepsTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.mgr.ToSession(ctx, "b", "s", security.FromString("pw"), 1); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}
	sessID := f.mgr.State().Session.ID

	if err := f.mgr.EndSession(ctx); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	st := f.mgr.State()
	if st.Session != nil {
		t.Fatal("session not cleared")
	}
	if st.CurrentTier != model.TierSession {
		t.Fatalf("tier changed by EndSession: %v", st.CurrentTier)
	}
	if f.store.sessions[sessID].Active {
		t.Fatal("remote session not revoked")
	}
	if f.mgr.UnattendedAllowed() {
		t.Fatal("unattended execution allowed with ended session")
	}
}

func TestEndSession_RemoteRevokeFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.mgr.ToSession(ctx, "b", "s", security.FromString("pw"), 1); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}
	f.store.failRevoke = errors.New("db down")

	if err := f.mgr.EndSession(ctx); err != nil {
		t.Fatalf("EndSession surfaced best-effort revoke failure: %v", err)
	}
	if f.mgr.State().Session != nil {
		t.Fatal("local session not cleared after failed remote revoke")
	}
}

func TestRefreshSession_RotatesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.mgr.ToSession(ctx, "blob", "salt", security.FromString("pw"), 1); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}
	oldID := f.mgr.State().Session.ID

	if err := f.mgr.RefreshSession(ctx, security.FromString("pw"), 4); err != nil {
		t.Fatalf("RefreshSession failed: %v", err)
	}

	st := f.mgr.State()
	if st.Session == nil || st.Session.ID == oldID {
		t.Fatalf("session not rotated: %+v", st.Session)
	}
	want := f.clock.Now().Add(4 * time.Hour)
	if !st.Session.ExpiresAt.Equal(want) {
		t.Fatalf("refreshed expiry = %v, want %v", st.Session.ExpiresAt, want)
	}
	if f.store.sessions[oldID].Active {
		t.Fatal("old session still active after refresh")
	}
}

func TestRefreshSession_WrongTier(t *testing.T) {
	f := newFixture(t)
	err := f.mgr.RefreshSession(context.Background(), security.FromString("pw"), 1)
	if !errors.Is(err, ErrNotInSessionTier) {
		t.Fatalf("error = %v, want ErrNotInSessionTier", err)
	}
	if st := f.mgr.State(); st != model.DefaultState() {
		t.Fatalf("state mutated by rejected refresh: %+v", st)
	}
}

func TestRefreshSession_MissingKeyRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.mgr.ToSession(ctx, "b", "s", security.FromString("pw"), 1); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}
	delete(f.store.keys, "u1|primary")

	if err := f.mgr.RefreshSession(ctx, security.FromString("pw"), 1); !errors.Is(err, ErrKeyRecordNotFound) {
		t.Fatalf("error = %v, want ErrKeyRecordNotFound", err)
	}
}

func TestSync_RemoteOverridesStaleCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Stale cache claims persistent while the remote store is empty.
	f.mgr.states.Set(model.SecurityTierState{CurrentTier: model.TierPersistent, KeysInRemoteStore: true, PasswordStoredInRemoteStore: true})
	if err := f.mgr.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if st := f.mgr.State(); st != model.DefaultState() {
		t.Fatalf("empty remote did not reset state: %+v", st)
	}

	// Key record with sealed password wins over an active session.
	sealed := "sealed-pw"
	f.store.keys["u1|primary"] = model.EncryptedKeyRecord{UserID: "u1", KeyName: "primary", EncryptedBlob: "b", EncryptionSalt: "s", EncryptedPassword: &sealed}
	f.store.sessions["s1"] = model.ExecutionSession{ID: "s1", UserID: "u1", CreatedAt: f.clock.Now(), ExpiresAt: f.clock.Now().Add(time.Hour), Active: true}
	if err := f.mgr.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	st := f.mgr.State()
	if st.CurrentTier != model.TierPersistent || !st.PasswordStoredInRemoteStore {
		t.Fatalf("persistent row did not win: %+v", st)
	}

	// Without the password the active session sets the tier.
	f.store.keys["u1|primary"] = model.EncryptedKeyRecord{UserID: "u1", KeyName: "primary", EncryptedBlob: "b", EncryptionSalt: "s"}
	if err := f.mgr.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	st = f.mgr.State()
	if st.CurrentTier != model.TierSession || st.Session == nil || st.Session.ID != "s1" {
		t.Fatalf("active session did not win: %+v", st)
	}
	if st.PasswordStoredInRemoteStore {
		t.Fatalf("password flag set without password row: %+v", st)
	}

	// An expired session no longer counts.
	f.clock.Advance(2 * time.Hour)
	if err := f.mgr.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	st = f.mgr.State()
	if st.CurrentTier != model.TierLocal || st.Session != nil {
		t.Fatalf("expired session kept tier: %+v", st)
	}
	if !st.KeysInRemoteStore {
		t.Fatal("orphaned key record not reflected in flags")
	}
}

func TestSync_DisconnectedIsNoop(t *testing.T) {
	states := statestore.New(localstore.NewMemStore(), "u1")
	states.Set(model.SecurityTierState{CurrentTier: model.TierSession})
	mgr := New(remotestore.Disconnected(), states, identity.Static("u1"))

	if err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("Sync without remote store failed: %v", err)
	}
	if mgr.State().CurrentTier != model.TierSession {
		t.Fatal("Sync without remote store mutated state")
	}
}

func TestSubscribe_OrderAndUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var order []string
	f.mgr.Subscribe(func(model.SecurityTierState) { order = append(order, "a") })
	unsub := f.mgr.Subscribe(func(model.SecurityTierState) { order = append(order, "b") })
	f.mgr.Subscribe(func(model.SecurityTierState) { order = append(order, "c") })

	if err := f.mgr.ToSession(ctx, "b", "s", security.FromString("pw"), 1); err != nil {
		t.Fatalf("ToSession failed: %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("listener order = %v", order)
	}

	unsub()
	order = nil
	if err := f.mgr.EndSession(ctx); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Fatalf("order after unsubscribe = %v", order)
	}
}

func TestPersistFailure_DoesNotFailMigration(t *testing.T) {
	f := newFixture(t)
	f.blobs.FailSets = errors.New("disk full")

	if err := f.mgr.ToSession(context.Background(), "b", "s", security.FromString("pw"), 1); err != nil {
		t.Fatalf("migration failed on persistence error: %v", err)
	}
	if f.mgr.State().CurrentTier != model.TierSession {
		t.Fatal("in-memory state not updated")
	}
	if f.mgr.LastPersistErr() == nil {
		t.Fatal("persistence failure not retained")
	}

	f.blobs.FailSets = nil
	if err := f.mgr.EndSession(context.Background()); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if f.mgr.LastPersistErr() != nil {
		t.Fatalf("persist error not cleared after successful save: %v", f.mgr.LastPersistErr())
	}
}
