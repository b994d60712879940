package social

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatmate-app/chatmate/server/errs"
	"github.com/chatmate-app/chatmate/server/model"
	"github.com/chatmate-app/chatmate/server/notify"
	"github.com/chatmate-app/chatmate/server/session"
	"github.com/chatmate-app/chatmate/server/testutil"
)

func newTestService(t *testing.T) (*Service, *session.Manager) {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	sm := session.NewManager(zap.NewNop())
	n := notify.New(sm, nil, zap.NewNop())
	return NewService(gdb, sm, n, zap.NewNop()), sm
}

func TestRequest_CreatesPending(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	bob := testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")

	view, err := svc.Request(context.Background(), alice.ID, "bob@example.com")
	require.NoError(t, err)
	assert.NotZero(t, view.ID)
	assert.Equal(t, alice.ID, view.Sender.ID)
	assert.Equal(t, "Alice", view.Sender.Name)

	var req model.FriendRequest
	require.NoError(t, svc.db.First(&req, view.ID).Error)
	assert.Equal(t, model.RequestPending, req.Status)
	assert.Equal(t, bob.ID, req.RecipientID)
}

func TestRequest_EmailCaseInsensitive(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")

	_, err := svc.Request(context.Background(), alice.ID, "  Bob@Example.COM ")
	require.NoError(t, err)
}

func TestRequest_UnknownEmail(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")

	_, err := svc.Request(context.Background(), alice.ID, "nobody@example.com")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRequest_SelfRequest(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")

	_, err := svc.Request(context.Background(), alice.ID, "alice@example.com")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRequest_DuplicatePending(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	bob := testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")

	_, err := svc.Request(context.Background(), alice.ID, "bob@example.com")
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), alice.ID, "bob@example.com")
	assert.ErrorIs(t, err, errs.ErrConflict)

	// Reverse direction while the first is pending is also a conflict.
	_, err = svc.Request(context.Background(), bob.ID, "alice@example.com")
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestAccept_CreatesSymmetricFriendship(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	bob := testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")

	view, err := svc.Request(context.Background(), alice.ID, "bob@example.com")
	require.NoError(t, err)

	accepted, err := svc.Accept(context.Background(), view.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, accepted.Status)

	var req model.FriendRequest
	require.NoError(t, svc.db.First(&req, view.ID).Error)
	assert.Equal(t, model.RequestAccepted, req.Status)

	for _, uid := range []int64{alice.ID, bob.ID} {
		friends, err := svc.Friends(context.Background(), uid)
		require.NoError(t, err)
		require.Len(t, friends, 1, "user %d should have one friend", uid)
	}
}

func TestAccept_OnlyRecipient(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")
	carol := testutil.CreateUser(t, svc.db, "Carol", "carol@example.com")

	view, err := svc.Request(context.Background(), alice.ID, "bob@example.com")
	require.NoError(t, err)

	// Neither the sender nor a third party may accept.
	_, err = svc.Accept(context.Background(), view.ID, alice.ID)
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = svc.Accept(context.Background(), view.ID, carol.ID)
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestAccept_UnknownRequest(t *testing.T) {
	svc, _ := newTestService(t)
	bob := testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")

	_, err := svc.Accept(context.Background(), 424242, bob.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAccept_Twice(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	bob := testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")

	view, err := svc.Request(context.Background(), alice.ID, "bob@example.com")
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), view.ID, bob.ID)
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), view.ID, bob.ID)
	assert.ErrorIs(t, err, errs.ErrConflict)

	// Still exactly one friendship row per direction.
	var count int64
	svc.db.Model(&model.Friendship{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestDecline(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	bob := testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")

	view, err := svc.Request(context.Background(), alice.ID, "bob@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.Decline(context.Background(), view.ID, bob.ID))

	var req model.FriendRequest
	require.NoError(t, svc.db.First(&req, view.ID).Error)
	assert.Equal(t, model.RequestDeclined, req.Status)

	// No friendship created, request gone from the pending list.
	friends, err := svc.Friends(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Empty(t, friends)

	pending, err := svc.PendingRequests(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A declined request can be followed by a fresh one.
	_, err = svc.Request(context.Background(), alice.ID, "bob@example.com")
	require.NoError(t, err)
}

func TestPendingRequests(t *testing.T) {
	svc, _ := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	bob := testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")
	carol := testutil.CreateUser(t, svc.db, "Carol", "carol@example.com")

	_, err := svc.Request(context.Background(), alice.ID, "carol@example.com")
	require.NoError(t, err)
	_, err = svc.Request(context.Background(), bob.ID, "carol@example.com")
	require.NoError(t, err)

	pending, err := svc.PendingRequests(context.Background(), carol.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "Alice", pending[0].Sender.Name)
	assert.Equal(t, "Bob", pending[1].Sender.Name)

	// Senders have no incoming requests.
	none, err := svc.PendingRequests(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFriends_PresenceFlag(t *testing.T) {
	svc, sm := newTestService(t)
	alice := testutil.CreateUser(t, svc.db, "Alice", "alice@example.com")
	bob := testutil.CreateUser(t, svc.db, "Bob", "bob@example.com")

	view, err := svc.Request(context.Background(), alice.ID, "bob@example.com")
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), view.ID, bob.ID)
	require.NoError(t, err)

	friends, err := svc.Friends(context.Background(), alice.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.False(t, friends[0].Online)

	// Presence is keyed by the manager; a bare session is enough here.
	sm.Bind(&session.Session{SendChan: make(chan []byte, 1), Done: make(chan struct{})}, bob.ID)

	friends, err = svc.Friends(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.True(t, friends[0].Online)
}
