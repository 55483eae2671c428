package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/limiter"
	"github.com/teatribe/tribes/internal/model"
	"github.com/teatribe/tribes/internal/repository"
)

var (
	_ SessionService = (*SessionServiceImpl)(nil)
	_ AccountService = (*AccountServiceImpl)(nil)
	_ TribeService   = (*TribeServiceImpl)(nil)
	_ MessageService = (*MessageServiceImpl)(nil)
	_ EventPoster    = (*MessageServiceImpl)(nil)
	_ TribeLeaver    = (*TribeServiceImpl)(nil)
)

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// --- accounts ---

type fakeAccounts struct {
	byID map[uuid.UUID]*model.Account

	createErr error
	deleted   []uuid.UUID
	updates   []string
}

var _ repository.AccountRepository = (*fakeAccounts)(nil)

func newFakeAccounts(accs ...model.Account) *fakeAccounts {
	f := &fakeAccounts{byID: map[uuid.UUID]*model.Account{}}
	for i := range accs {
		a := accs[i]
		f.byID[a.ID] = &a
	}
	return f
}

func (f *fakeAccounts) Create(_ context.Context, a *model.Account) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, x := range f.byID {
		if x.WalletAddress == a.WalletAddress {
			return errs.ErrAlreadyExists
		}
	}
	a.Role = model.RoleUser
	if len(f.byID) == 0 {
		a.Role = model.RoleAdmin
	}
	c := *a
	f.byID[a.ID] = &c
	return nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrInvalidUser
	}
	c := *a
	return &c, nil
}

func (f *fakeAccounts) GetByWallet(_ context.Context, wallet string) (*model.Account, error) {
	for _, a := range f.byID {
		if a.WalletAddress == wallet {
			c := *a
			return &c, nil
		}
	}
	return nil, errs.ErrAccountNotFound
}

func (f *fakeAccounts) ExistsByWallet(ctx context.Context, wallet string) (bool, error) {
	_, err := f.GetByWallet(ctx, wallet)
	return err == nil, nil
}

func (f *fakeAccounts) UpdateName(_ context.Context, id uuid.UUID, name string, _ time.Time) error {
	a, ok := f.byID[id]
	if !ok {
		return errs.ErrInvalidUser
	}
	a.FullName = name
	f.updates = append(f.updates, "name")
	return nil
}

func (f *fakeAccounts) UpdateProfilePhoto(_ context.Context, id uuid.UUID, photo string, _ time.Time) error {
	a, ok := f.byID[id]
	if !ok {
		return errs.ErrInvalidUser
	}
	a.ProfilePhoto = photo
	f.updates = append(f.updates, "photo")
	return nil
}

func (f *fakeAccounts) UpdateDeviceToken(_ context.Context, id uuid.UUID, dt model.DeviceType, token string, _ time.Time) error {
	a, ok := f.byID[id]
	if !ok {
		return errs.ErrInvalidUser
	}
	a.DeviceType, a.DeviceToken = dt, token
	f.updates = append(f.updates, "device")
	return nil
}

func (f *fakeAccounts) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.byID[id]; !ok {
		return errs.ErrInvalidUser
	}
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// --- sessions ---

type fakeSessions struct {
	started   []model.RefreshToken
	publicKey string
	changes   []model.TribeChange
	startErr  error

	rotated   []string
	rotateAcc *model.Account
	rotateErr error

	revoked   []string
	revokeErr error
}

var _ repository.SessionRepository = (*fakeSessions)(nil)

func (f *fakeSessions) Start(_ context.Context, _ uuid.UUID, publicKey string, tok model.RefreshToken) ([]model.TribeChange, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.publicKey = publicKey
	f.started = append(f.started, tok)
	return f.changes, nil
}

func (f *fakeSessions) Rotate(_ context.Context, oldHash string, next model.RefreshToken) (*model.Account, error) {
	if f.rotateErr != nil {
		return nil, f.rotateErr
	}
	f.rotated = append(f.rotated, oldHash, next.TokenHash)
	return f.rotateAcc, nil
}

func (f *fakeSessions) Revoke(_ context.Context, hash, _ string, _ time.Time) error {
	f.revoked = append(f.revoked, hash)
	return f.revokeErr
}

// --- limiter ---

type fakeLimiter struct {
	allowOK     bool
	allowErr    error
	failBlocked bool

	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (f *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	if f.allowErr != nil {
		return false, 0, f.allowErr
	}
	if !f.allowOK {
		return false, time.Minute, nil
	}
	return true, 0, nil
}

func (f *fakeLimiter) Success(context.Context, string, []byte) error {
	f.successCalls++
	return nil
}

func (f *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	f.failureCalls++
	if f.failBlocked {
		return true, time.Minute, nil
	}
	return false, 0, nil
}

// --- tribes ---

type fakeTribes struct {
	created   []*model.Tribe
	createErr error
	list      []model.Tribe
	ids       []uuid.UUID

	invites   []model.InviteCode
	inviteErr error
	purged    int

	joinHash string
	joinRes  *model.JoinResult
	joinErr  error

	leaveCh  *model.TribeChange
	leaveErr error
	left     []uuid.UUID

	removeRes *model.RemoveResult
	removeErr error

	renameCh  *model.TribeChange
	renameErr error
	renamedTo string
}

var _ repository.TribeRepository = (*fakeTribes)(nil)

func (f *fakeTribes) Create(_ context.Context, t *model.Tribe, creatorID uuid.UUID, _ int) error {
	if f.createErr != nil {
		return f.createErr
	}
	t.Members = []model.TribeMember{{TribeID: t.ID, Account: model.Account{ID: creatorID}, Joined: t.Created}}
	f.created = append(f.created, t)
	return nil
}

func (f *fakeTribes) Get(context.Context, uuid.UUID) (*model.Tribe, error) { return nil, errs.ErrNotFound }

func (f *fakeTribes) ListForAccount(context.Context, uuid.UUID) ([]model.Tribe, error) {
	return f.list, nil
}

func (f *fakeTribes) TribeIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) { return f.ids, nil }

func (f *fakeTribes) IsMember(_ context.Context, tribeID, _ uuid.UUID) (bool, error) {
	for _, id := range f.ids {
		if id == tribeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTribes) CreateInvite(_ context.Context, inv model.InviteCode) error {
	if f.inviteErr != nil {
		return f.inviteErr
	}
	f.invites = append(f.invites, inv)
	return nil
}

func (f *fakeTribes) PurgeExpiredInvites(context.Context, time.Time) (int64, error) {
	f.purged++
	return 1, nil
}

func (f *fakeTribes) Join(_ context.Context, codeHash string, _ uuid.UUID, _ model.TribeLimits, _ time.Time) (*model.JoinResult, error) {
	f.joinHash = codeHash
	return f.joinRes, f.joinErr
}

func (f *fakeTribes) Leave(_ context.Context, tribeID, _ uuid.UUID) (*model.TribeChange, error) {
	if f.leaveErr != nil {
		return nil, f.leaveErr
	}
	f.left = append(f.left, tribeID)
	if f.leaveCh != nil {
		return f.leaveCh, nil
	}
	return &model.TribeChange{TribeID: tribeID, TimestampID: uuid.Must(uuid.NewV4())}, nil
}

func (f *fakeTribes) RemoveMember(context.Context, uuid.UUID, uuid.UUID, string) (*model.RemoveResult, error) {
	return f.removeRes, f.removeErr
}

func (f *fakeTribes) Rename(_ context.Context, _, _ uuid.UUID, name string) (*model.TribeChange, error) {
	if f.renameErr != nil {
		return nil, f.renameErr
	}
	f.renamedTo = name
	return f.renameCh, nil
}

// --- messages ---

type postCall struct {
	msg       model.NewMessage
	timestamp uuid.UUID
	quota     *model.TeaQuota
	horizon   time.Time
}

type fakeMessages struct {
	posts   []postCall
	postErr error
	sender  model.Account
	events  []model.NewMessage

	listSince time.Time
	list      []model.Message

	softTribe uuid.UUID
	softErr   error

	viewers map[uuid.UUID]map[uuid.UUID]bool

	reactions []string
	teaQuota  model.TeaQuota
	allowed   []uuid.UUID
	cutoff    time.Time
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func (f *fakeMessages) Post(_ context.Context, m model.NewMessage, ts uuid.UUID, quota *model.TeaQuota, since time.Time) (*model.Message, error) {
	f.posts = append(f.posts, postCall{msg: m, timestamp: ts, quota: quota, horizon: since})
	if f.postErr != nil {
		return nil, f.postErr
	}
	sender := f.sender
	return &model.Message{
		ID: m.ID, TribeID: m.TribeID, Sender: &sender, Body: m.Body, Type: m.Type, Tag: m.Tag,
		Expires: m.Expires, TimeStamp: m.TimeStamp, Keys: m.Keys,
	}, nil
}

func (f *fakeMessages) AddEvent(_ context.Context, m model.NewMessage) (*model.Message, error) {
	f.events = append(f.events, m)
	return &model.Message{ID: m.ID, TribeID: m.TribeID, Body: m.Body, Type: m.Type, Tag: m.Tag, TimeStamp: m.TimeStamp}, nil
}

func (f *fakeMessages) List(_ context.Context, _, _ uuid.UUID, since time.Time) ([]model.Message, error) {
	f.listSince = since
	return f.list, nil
}

func (f *fakeMessages) SoftDelete(context.Context, uuid.UUID, uuid.UUID) (uuid.UUID, error) {
	return f.softTribe, f.softErr
}

func (f *fakeMessages) AddViewer(_ context.Context, messageID, accountID uuid.UUID) error {
	if f.viewers == nil {
		f.viewers = map[uuid.UUID]map[uuid.UUID]bool{}
	}
	if f.viewers[messageID] == nil {
		f.viewers[messageID] = map[uuid.UUID]bool{}
	}
	f.viewers[messageID][accountID] = true
	return nil
}

func (f *fakeMessages) Viewers(_ context.Context, messageID, _ uuid.UUID) ([]string, error) {
	var out []string
	for id := range f.viewers[messageID] {
		out = append(out, id.String())
	}
	return out, nil
}

func (f *fakeMessages) AddReaction(_ context.Context, _, _ uuid.UUID, content string, _ time.Time) (uuid.UUID, error) {
	f.reactions = append(f.reactions, content)
	return uuid.Nil, nil
}

func (f *fakeMessages) AllowedTeaTribes(_ context.Context, _ uuid.UUID, q model.TeaQuota) ([]uuid.UUID, error) {
	f.teaQuota = q
	return f.allowed, nil
}

func (f *fakeMessages) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

// --- notifier ---

type broadcast struct {
	tribe   uuid.UUID
	event   string
	payload any
}

type push struct {
	tribe, exclude uuid.UUID
	tag            model.MessageTag
	body           string
}

type recordingNotifier struct {
	mu         sync.Mutex
	broadcasts []broadcast
	pushes     []push
}

func (r *recordingNotifier) BroadcastToTribe(tribeID uuid.UUID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, broadcast{tribe: tribeID, event: event, payload: payload})
}

func (r *recordingNotifier) PushToTribe(tribeID, exclude uuid.UUID, tag model.MessageTag, _, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, push{tribe: tribeID, exclude: exclude, tag: tag, body: body})
}

func (r *recordingNotifier) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.broadcasts))
	for _, b := range r.broadcasts {
		out = append(out, b.event)
	}
	return out
}
