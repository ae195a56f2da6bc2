package ticketsync_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/g960059/helpdesk/internal/appclient"
	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/model"
	"github.com/g960059/helpdesk/internal/session"
	"github.com/g960059/helpdesk/internal/testutil"
	"github.com/g960059/helpdesk/internal/ticketsync"
)

type harness struct {
	fake  *testutil.FakeAPI
	sess  *session.Store
	sync  *ticketsync.Synchronizer
	ctx   context.Context
	token string
	owner string
}

func newHarness(t *testing.T, role model.Role, opts ticketsync.Options) *harness {
	t.Helper()
	fake := testutil.NewFakeAPI(t)
	sess, ctx := testutil.NewSession(t)
	owner := fake.AddUser("A", "a@x.com", "secret1", model.RoleUser)
	token := owner
	if role == model.RoleAdmin {
		token = fake.AddUser("Root", "root@x.com", "secret1", model.RoleAdmin)
	}
	testutil.SignIn(t, sess, token, role, "viewer")
	client := appclient.NewWithClient(fake.URL(), fake.HTTPClient(), sess)
	return &harness{
		fake:  fake,
		sess:  sess,
		sync:  ticketsync.New(client, sess, opts),
		ctx:   ctx,
		token: token,
		owner: owner,
	}
}

func TestRefreshWithoutCredentialMakesNoCall(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	require.NoError(t, h.sess.Clear(h.ctx))

	err := h.sync.Refresh(h.ctx, "")
	require.ErrorIs(t, err, ticketsync.ErrNotAuthenticated)
	require.Empty(t, h.fake.Requests())
}

func TestUserNeverListsAdminCollection(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	h.fake.AddTicket(h.owner, "Printer jammed", "paper", model.PriorityHigh, model.StatusOpen)

	require.NoError(t, h.sync.Refresh(h.ctx, "printer"))
	require.Equal(t, 0, h.fake.Count(http.MethodGet, "/tickets"))
	require.Equal(t, 1, h.fake.Count(http.MethodGet, "/tickets/my"))
	require.Len(t, h.sync.Tickets(), 1)
}

func TestAdminSearchReplacesCache(t *testing.T) {
	h := newHarness(t, model.RoleAdmin, ticketsync.Options{})
	h.fake.AddTicket(h.owner, "Printer jammed", "paper", model.PriorityHigh, model.StatusOpen)
	h.fake.AddTicket(h.owner, "VPN down", "tunnel", model.PriorityLow, model.StatusInProgress)

	require.NoError(t, h.sync.Refresh(h.ctx, ""))
	require.Len(t, h.sync.Tickets(), 2)

	require.NoError(t, h.sync.Refresh(h.ctx, "vpn"))
	tickets := h.sync.Tickets()
	require.Len(t, tickets, 1, "cache must be replaced, not merged")
	require.Equal(t, "VPN down", tickets[0].Title)
	require.Equal(t, "vpn", h.sync.Snapshot().FilterText)

	reqs := h.fake.Requests()
	require.Equal(t, "search=", reqs[0].Query)
	require.Equal(t, "search=vpn", reqs[1].Query)
}

func TestReloadReusesLastSearch(t *testing.T) {
	h := newHarness(t, model.RoleAdmin, ticketsync.Options{})
	require.NoError(t, h.sync.Refresh(h.ctx, "vpn"))
	require.NoError(t, h.sync.Reload(h.ctx))

	reqs := h.fake.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, "search=vpn", reqs[1].Query)
}

func TestLastLandingResponseWins(t *testing.T) {
	h := newHarness(t, model.RoleAdmin, ticketsync.Options{})
	h.fake.AddTicket(h.owner, "First", "d", model.PriorityLow, model.StatusOpen)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.fake.OnList(func(call int) {
		if call == 1 {
			close(entered)
			<-release
		}
	})

	slow := make(chan error, 1)
	go func() {
		slow <- h.sync.Refresh(h.ctx, "")
	}()
	<-entered

	h.fake.AddTicket(h.owner, "Second", "d", model.PriorityLow, model.StatusOpen)
	require.NoError(t, h.sync.Refresh(h.ctx, ""))
	require.Len(t, h.sync.Tickets(), 2)

	close(release)
	require.NoError(t, <-slow)
	require.Len(t, h.sync.Tickets(), 1, "the response that landed last is installed")
}

func TestViewFiltersAndMemoizes(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	h.fake.AddTicket(h.owner, "a", "d", model.PriorityLow, model.StatusOpen)
	h.fake.AddTicket(h.owner, "b", "d", model.PriorityLow, model.StatusResolved)
	odd := h.fake.AddTicket(h.owner, "c", "d", model.PriorityLow, model.StatusOpen)
	h.fake.SetRawStatus(odd, "escalated")
	require.NoError(t, h.sync.Refresh(h.ctx, ""))

	open := h.sync.View(ticketsync.FilterOpen)
	require.Len(t, open, 1)
	require.Equal(t, "a", open[0].Title)
	require.Len(t, h.sync.View(ticketsync.FilterAll), 3)
	require.Len(t, h.sync.View(ticketsync.FilterInProgress), 0)
	unknown := h.sync.View(ticketsync.FilterUnknown)
	require.Len(t, unknown, 1)
	require.Equal(t, model.StatusUnknown, unknown[0].Status)

	require.Same(t, &open[0], &h.sync.View(ticketsync.FilterOpen)[0], "view is memoized per cache version")

	require.NoError(t, h.sync.Refresh(h.ctx, ""))
	require.NotSame(t, &open[0], &h.sync.View(ticketsync.FilterOpen)[0], "new version recomputes")

	require.Equal(t, ticketsync.Stats{Total: 3, Open: 1, Resolved: 1, Unknown: 1}, h.sync.Stats())
}

func TestParseFilter(t *testing.T) {
	f, err := ticketsync.ParseFilter("In Progress")
	require.NoError(t, err)
	require.Equal(t, ticketsync.FilterInProgress, f)
	f, err = ticketsync.ParseFilter("")
	require.NoError(t, err)
	require.Equal(t, ticketsync.FilterAll, f)
	_, err = ticketsync.ParseFilter("closed")
	require.Error(t, err)
}

func TestFailedRefreshKeepsCacheAndDegrades(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	h.fake.AddTicket(h.owner, "a", "d", model.PriorityLow, model.StatusOpen)
	require.NoError(t, h.sync.Refresh(h.ctx, ""))

	h.fake.FailNext(http.MethodGet, "/tickets/my", http.StatusInternalServerError, `{"error":"db offline"}`)
	err := h.sync.Refresh(h.ctx, "")
	require.True(t, apperr.IsKind(err, apperr.KindServer))
	require.Equal(t, "db offline", apperr.UserMessage(err, ""))
	require.Len(t, h.sync.Tickets(), 1)
	require.Equal(t, ticketsync.HealthDegraded, h.sync.Health().Current)
	require.Error(t, h.sync.LastError())
	require.False(t, h.sync.Loading())

	require.NoError(t, h.sync.Refresh(h.ctx, ""))
	require.NoError(t, h.sync.LastError())
}

func TestOnReplaceSeesEachInstall(t *testing.T) {
	var installs atomic.Int32
	fake := testutil.NewFakeAPI(t)
	sess, ctx := testutil.NewSession(t)
	token := fake.AddUser("A", "a@x.com", "secret1", model.RoleUser)
	testutil.SignIn(t, sess, token, model.RoleUser, "A")
	client := appclient.NewWithClient(fake.URL(), fake.HTTPClient(), sess)
	s := ticketsync.New(client, sess, ticketsync.Options{OnReplace: func(snap ticketsync.Snapshot) {
		installs.Add(1)
		require.Equal(t, uint64(installs.Load()), snap.Version)
	}})

	require.NoError(t, s.Refresh(ctx, ""))
	require.NoError(t, s.Refresh(ctx, ""))
	require.Equal(t, int32(2), installs.Load())
}

func TestAutoRefreshPollsUntilStopped(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	require.NoError(t, h.sync.StartAutoRefresh(h.ctx, 20*time.Millisecond))
	require.True(t, h.sync.AutoRefreshing())

	require.Eventually(t, func() bool {
		return h.fake.Count(http.MethodGet, "/tickets/my") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	h.sync.StopAutoRefresh()
	require.False(t, h.sync.AutoRefreshing())
	calls := h.fake.Count(http.MethodGet, "/tickets/my")
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, calls, h.fake.Count(http.MethodGet, "/tickets/my"), "no calls after stop")

	h.sync.StopAutoRefresh()
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	h.sync.StopAutoRefresh()
	require.False(t, h.sync.AutoRefreshing())
}

func TestStartAutoRefreshRequiresCredential(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	require.NoError(t, h.sess.Clear(h.ctx))
	require.ErrorIs(t, h.sync.StartAutoRefresh(h.ctx, 0), ticketsync.ErrNotAuthenticated)
	require.False(t, h.sync.AutoRefreshing())
}

func TestAutoRefreshEndsWhenCredentialChanges(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	require.NoError(t, h.sync.StartAutoRefresh(h.ctx, 20*time.Millisecond))
	require.Eventually(t, func() bool {
		return h.fake.Count(http.MethodGet, "/tickets/my") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	other := h.fake.AddUser("B", "b@x.com", "secret1", model.RoleUser)
	testutil.SignIn(t, h.sess, other, model.RoleUser, "B")

	require.Eventually(t, func() bool {
		return !h.sync.AutoRefreshing()
	}, 2*time.Second, 10*time.Millisecond)

	calls := h.fake.Count(http.MethodGet, "/tickets/my")
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, calls, h.fake.Count(http.MethodGet, "/tickets/my"), "ended loop makes no calls")
	h.sync.StopAutoRefresh()
}

func TestStartReplacesRunningLoop(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	require.NoError(t, h.sync.StartAutoRefresh(h.ctx, time.Hour))
	require.NoError(t, h.sync.StartAutoRefresh(h.ctx, 20*time.Millisecond))
	require.Eventually(t, func() bool {
		return h.fake.Count(http.MethodGet, "/tickets/my") >= 1
	}, 2*time.Second, 10*time.Millisecond)
	h.sync.StopAutoRefresh()
	require.False(t, h.sync.AutoRefreshing())
}

func TestInFlightResponseDiscardedAfterStop(t *testing.T) {
	h := newHarness(t, model.RoleUser, ticketsync.Options{})
	h.fake.AddTicket(h.owner, "a", "d", model.PriorityLow, model.StatusOpen)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	h.fake.OnList(func(int) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})

	require.NoError(t, h.sync.StartAutoRefresh(h.ctx, 10*time.Millisecond))
	<-entered

	stopped := make(chan struct{})
	go func() {
		h.sync.StopAutoRefresh()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return while a response was in flight")
	}
	close(release)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, uint64(0), h.sync.Snapshot().Version)
	require.Empty(t, h.sync.Tickets())
	require.False(t, h.sync.Loading())
}
