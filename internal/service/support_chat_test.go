package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type actorKey struct {
	kind models.ActorKind
	id   uuid.UUID
}

type fakeActors map[actorKey]models.ActorStatus

func (f fakeActors) ActorStatus(_ context.Context, kind models.ActorKind, id uuid.UUID) (models.ActorStatus, error) {
	return f[actorKey{kind, id}], nil
}

type fakeTickets struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.SupportTicket
}

func (f *fakeTickets) Create(_ context.Context, t *models.SupportTicket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = uuid.New()
	if t.Priority == "" {
		t.Priority = models.PriorityNormal
	}
	t.Status = models.TicketOpen
	f.rows[t.ID] = *t
	return nil
}

func (f *fakeTickets) GetByID(_ context.Context, id uuid.UUID) (*models.SupportTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok {
		return nil, apperr.NotFound("Ticket")
	}
	return &t, nil
}

func (f *fakeTickets) LockByID(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeTickets) List(_ context.Context, flt models.TicketFilter) ([]models.SupportTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SupportTicket
	for _, t := range f.rows {
		if flt.Opener != nil && !t.Opener.Equal(*flt.Opener) {
			continue
		}
		if flt.Status != "" && t.Status != flt.Status {
			continue
		}
		if flt.Priority != "" && t.Priority != flt.Priority {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTickets) Save(_ context.Context, t *models.SupportTicket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[t.ID] = *t
	return nil
}

type fakeChat struct {
	msgs []models.ChatMessage
}

func (f *fakeChat) Create(_ context.Context, m *models.ChatMessage) error {
	m.ID = uuid.New()
	f.msgs = append(f.msgs, *m)
	return nil
}

// addressedTo mirrors the inbox rule: any admin reads (admin, nil).
func addressedTo(r, viewer models.ActorRef) bool {
	if r.IsAdminInbox() {
		return viewer.Kind == models.KindAdmin
	}
	return r.Equal(viewer)
}

func (f *fakeChat) Conversations(_ context.Context, viewer models.ActorRef) ([]models.Conversation, error) {
	return nil, nil
}

func (f *fakeChat) Thread(_ context.Context, viewer, peer models.ActorRef, limit int) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	for _, m := range f.msgs {
		if (m.Sender.Equal(viewer) && m.Recipient.Equal(peer)) || (m.Sender.Equal(peer) && addressedTo(m.Recipient, viewer)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeChat) MarkRead(_ context.Context, viewer, peer models.ActorRef, at time.Time) (int64, error) {
	var n int64
	for i, m := range f.msgs {
		if !m.IsRead && m.Sender.Equal(peer) && addressedTo(m.Recipient, viewer) {
			f.msgs[i].IsRead = true
			f.msgs[i].ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeChat) Unread(_ context.Context, viewer models.ActorRef) (int, error) {
	n := 0
	for _, m := range f.msgs {
		if !m.IsRead && addressedTo(m.Recipient, viewer) {
			n++
		}
	}
	return n, nil
}

func TestTicketLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tickets := &fakeTickets{rows: map[uuid.UUID]models.SupportTicket{}}
	support := NewSupportService(env.store, tickets, fakeActors{}, logger.Nop()).WithClock(func() time.Time { return env.now })
	ctx := context.Background()

	tk, err := support.Open(ctx, env.customer, CreateTicketRequest{Subject: "  Missing item ", Body: "No plantain chips in the bag."})
	require.NoError(t, err)
	assert.Equal(t, "Missing item", tk.Subject)
	assert.Equal(t, models.TicketOpen, tk.Status)

	mine, err := support.Mine(ctx, env.customer)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = support.SetStatus(ctx, env.admin, tk.ID, TicketStatusRequest{Status: models.TicketResolved})
	assert.Equal(t, "invalid_transition", apperr.CodeOf(err), "open cannot skip to resolved")

	tk, err = support.Assign(ctx, env.admin, tk.ID, AssignTicketRequest{})
	require.NoError(t, err)
	require.NotNil(t, tk.AssigneeAdminID)
	assert.Equal(t, env.admin.ID.String(), *tk.AssigneeAdminID)

	for _, st := range []models.TicketStatus{models.TicketInProgress, models.TicketResolved, models.TicketClosed} {
		tk, err = support.SetStatus(ctx, env.admin, tk.ID, TicketStatusRequest{Status: st})
		require.NoError(t, err, st)
	}
	require.NotNil(t, tk.ResolvedAt)
	assert.True(t, env.now.Equal(*tk.ResolvedAt))

	_, err = support.Assign(ctx, env.admin, tk.ID, AssignTicketRequest{})
	assert.Equal(t, "ticket_closed", apperr.CodeOf(err))
}

func TestTicketAdminGuards(t *testing.T) {
	env := newTestEnv(t)
	tickets := &fakeTickets{rows: map[uuid.UUID]models.SupportTicket{}}
	inactive := uuid.New()
	actors := fakeActors{{models.KindAdmin, inactive}: {Exists: true, IsActive: false}}
	support := NewSupportService(env.store, tickets, actors, logger.Nop())
	ctx := context.Background()

	tk, err := support.Open(ctx, env.customer, CreateTicketRequest{Subject: "Refund", Body: "Please", Priority: models.PriorityUrgent})
	require.NoError(t, err)

	_, err = support.AdminList(ctx, env.customer, "", "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	readOnly := models.Principal{Kind: models.KindAdmin, ID: uuid.New(), Role: "analyst"}
	_, err = support.AdminList(ctx, readOnly, "", "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	list, err := support.AdminList(ctx, env.admin, "", models.PriorityUrgent)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = support.Assign(ctx, env.admin, tk.ID, AssignTicketRequest{AdminID: &inactive})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = support.Assign(ctx, env.admin, uuid.New(), AssignTicketRequest{})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestChatAdminInbox(t *testing.T) {
	env := newTestEnv(t)
	store := &fakeChat{}
	chat := NewChatService(store, fakeActors{}, logger.Nop())
	ctx := context.Background()

	_, err := chat.Send(ctx, env.customer, SendMessageRequest{RecipientKind: models.KindAdmin, Body: "Where is my order?"})
	require.NoError(t, err)

	other := models.Principal{Kind: models.KindAdmin, ID: uuid.New(), Role: models.RoleSuperAdmin}
	for _, a := range []models.Principal{env.admin, other} {
		n, err := chat.Unread(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, 1, n.Unread, "every admin sees the inbox")
	}

	msgs, err := chat.Thread(ctx, env.admin, env.customer.Ref(), 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Where is my order?", msgs[0].Body)

	n, err := chat.Unread(ctx, other)
	require.NoError(t, err)
	assert.Zero(t, n.Unread, "the inbox read flag is shared by the admin team")

	_, err = chat.Send(ctx, env.customer, SendMessageRequest{RecipientKind: models.KindAdmin, Body: "Still waiting"})
	require.NoError(t, err)
	_, err = chat.Thread(ctx, other, env.customer.Ref(), 50)
	require.NoError(t, err)
	n, err = chat.Unread(ctx, env.admin)
	require.NoError(t, err)
	assert.Zero(t, n.Unread, "either admin clears the queue for both")
}

func TestChatSendRules(t *testing.T) {
	env := newTestEnv(t)
	driver := uuid.New()
	chat := NewChatService(&fakeChat{}, fakeActors{{models.KindDriver, driver}: {Exists: true, IsActive: true}}, logger.Nop())
	ctx := context.Background()

	_, err := chat.Send(ctx, env.customer, SendMessageRequest{RecipientKind: models.KindDriver, RecipientID: &driver, Body: "Gate code 4411"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SendMessageRequest
		kind apperr.Kind
	}{
		{"blank body", SendMessageRequest{RecipientKind: models.KindDriver, RecipientID: &driver, Body: "   "}, apperr.KindValidation},
		{"missing id", SendMessageRequest{RecipientKind: models.KindDriver, Body: "hi"}, apperr.KindValidation},
		{"self", SendMessageRequest{RecipientKind: models.KindCustomer, RecipientID: &env.customer.ID, Body: "hi"}, apperr.KindValidation},
		{"unknown recipient", SendMessageRequest{RecipientKind: models.KindChef, RecipientID: ptr(uuid.New()), Body: "hi"}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chat.Send(ctx, env.customer, tt.req)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}
