package telegram

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/forwarder"
	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"

	"github.com/lightningnetwork/lnd/fn/v2"
)

type memRecords map[int64]tenant.Tenant

func (m memRecords) Get(_ context.Context, id int64) (tenant.Tenant, error) {
	t, ok := m[id]
	if !ok {
		return tenant.Tenant{}, errors.New("not found")
	}
	return t, nil
}

type fakeAPI struct {
	chats     map[int64]*tele.Chat
	chatErr   map[int64]error
	forwardTo []int64
	fwdErr    error
}

func (f *fakeAPI) ChatByID(id int64) (*tele.Chat, error) {
	if err := f.chatErr[id]; err != nil {
		return nil, err
	}
	return f.chats[id], nil
}

func (f *fakeAPI) Forward(to tele.Recipient, _ tele.Editable, _ ...any) (*tele.Message, error) {
	if f.fwdErr != nil {
		return nil, f.fwdErr
	}
	c := to.(*tele.Chat)
	f.forwardTo = append(f.forwardTo, c.ID)
	return &tele.Message{ID: 1}, nil
}

func newTenant() tenant.Tenant {
	t := tenant.New(5, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	t.Groups = []int64{-100, -200, -300, 42}
	t.Source = fn.Some(tenant.SourceRef{ChatID: -999, MessageID: 17})
	return t
}

func TestDestinationsFiltersGroups(t *testing.T) {
	api := &fakeAPI{
		chats: map[int64]*tele.Chat{
			-100: {ID: -100, Type: tele.ChatSuperGroup, Title: "Sales"},
			42:   {ID: 42, Type: tele.ChatPrivate},
		},
		chatErr: map[int64]error{
			-200: &tele.Error{Code: 400, Description: "Bad Request: chat not found"},
			-300: &tele.Error{Code: 502, Description: "Bad Gateway"},
		},
	}
	h := NewHandle(5, "main", api, memRecords{5: newTenant()}, logx.Nop())

	dsts, err := h.Destinations(context.Background())
	require.NoError(t, err)
	require.Equal(t, []forwarder.Destination{
		{ChatID: -100, Title: "Sales"},
		{ChatID: -300},
	}, dsts)
}

func TestDestinationsUnauthorized(t *testing.T) {
	api := &fakeAPI{chatErr: map[int64]error{-100: &tele.Error{Code: 401, Description: "Unauthorized"}}}
	h := NewHandle(5, "main", api, memRecords{5: newTenant()}, logx.Nop())

	_, err := h.Destinations(context.Background())
	require.ErrorIs(t, err, forwarder.ErrUnauthorized)
}

func TestSourceAndDeliver(t *testing.T) {
	api := &fakeAPI{}
	h := NewHandle(5, "main", api, memRecords{5: newTenant()}, logx.Nop())

	src, err := h.Source(context.Background())
	require.NoError(t, err)
	msg := src.UnwrapOr(forwarder.Message{})
	require.Equal(t, forwarder.Message{ChatID: -999, MessageID: 17}, msg)

	require.NoError(t, h.Deliver(context.Background(), forwarder.Destination{ChatID: -100}, msg))
	require.Equal(t, []int64{-100}, api.forwardTo)

	unset := newTenant()
	unset.Source = fn.None[tenant.SourceRef]()
	h = NewHandle(5, "main", api, memRecords{5: unset}, logx.Nop())
	src, err = h.Source(context.Background())
	require.NoError(t, err)
	require.True(t, src.IsNone())
}

func TestClassify(t *testing.T) {
	out := classify(tele.FloodError{RetryAfter: 10})
	var rl *forwarder.RateLimitError
	require.ErrorAs(t, out, &rl)
	require.Equal(t, 10*time.Second, rl.Wait)

	require.ErrorIs(t, classify(&tele.Error{Code: 403, Description: "Forbidden: bot was kicked"}), forwarder.ErrRejected)
	require.ErrorIs(t, classify(&tele.Error{Code: 400, Description: "Bad Request: not enough rights to send"}), forwarder.ErrRejected)
	require.ErrorIs(t, classify(&tele.Error{Code: 401, Description: "Unauthorized"}), forwarder.ErrUnauthorized)
	require.ErrorIs(t, classify(&tele.Error{Code: 500, Description: "Internal"}), forwarder.ErrTransient)
	require.ErrorIs(t, classify(&net.OpError{Op: "dial", Err: errors.New("refused")}), forwarder.ErrTransient)

	odd := errors.New("odd")
	require.Equal(t, odd, classify(odd))
	require.NoError(t, classify(nil))

}

func TestClassifyKeepsCycleGoing(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want forwarder.OutcomeKind
	}{
		{"message too long", &tele.Error{Code: 400, Description: "Bad Request: message is too long"}, forwarder.TransientError},
		{"unknown bad request", &tele.Error{Code: 400, Description: "Bad Request: something new"}, forwarder.TransientError},
		{"not found", &tele.Error{Code: 404, Description: "Not Found"}, forwarder.TransientError},
		{"group migrated", tele.GroupError{MigratedTo: -1001234}, forwarder.RejectedPermanent},
		{"group migrated without target", tele.ErrGroupMigrated, forwarder.RejectedPermanent},
		{"flood", tele.FloodError{RetryAfter: 3}, forwarder.RateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, ok := forwarder.Classify(classify(tc.err))
			require.True(t, ok)
			require.Equal(t, tc.want, o.Kind)
		})
	}

	o, ok := forwarder.Classify(classify(tele.GroupError{MigratedTo: -1001234}))
	require.True(t, ok)
	require.Contains(t, o.Err.Error(), "-1001234")
}
