// Package memstore keeps every repository in process memory while enforcing
// the same uniqueness rules as the MySQL schema. Service tests run on it.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/util"
)

type Store struct {
	mu       sync.Mutex
	messages []model.Message
	studios  []model.Studio
	accounts map[string]model.Account
	links    []model.StudioAccount
	tasks    []model.ZohoTask
}

func New() *Store {
	return &Store{accounts: make(map[string]model.Account)}
}

var (
	_ repository.MessagesRepository  = (*Store)(nil)
	_ repository.StudiosRepository   = studioView{}
	_ repository.AccountsRepository  = accountView{}
	_ repository.ZohoTasksRepository = taskView{}
)

// ---- seeding helpers ----

func (s *Store) AddStudio(st model.Studio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.studios = append(s.studios, st)
}

func (s *Store) AddAccount(studioID string, a model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	s.links = append(s.links, model.StudioAccount{StudioID: studioID, AccountID: a.ID})
}

// Messages returns a snapshot of all stored rows.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Tasks() []model.ZohoTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ZohoTask, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// ---- messages ----

func matchesKind(m model.Message, kind model.SentinelKind) bool {
	if kind == model.SentinelWelcome {
		return m.IsWelcomeMessage
	}
	return m.IsFollowUpMessage
}

func (s *Store) providerIDTaken(p model.Provider, id *string) bool {
	if id == nil {
		return false
	}
	for _, m := range s.messages {
		if m.Provider == p && m.ProviderMessageID != nil && *m.ProviderMessageID == *id {
			return true
		}
	}
	return false
}

// uniqueViolation mirrors the generated-column unique indexes.
func (s *Store) uniqueViolation(c model.Message, skipID string) bool {
	if c.ProviderMessageID != nil {
		for _, m := range s.messages {
			if m.ID != skipID && m.Provider == c.Provider && m.ProviderMessageID != nil && *m.ProviderMessageID == *c.ProviderMessageID {
				return true
			}
		}
	}
	kind, ok := c.Kind()
	if !ok {
		return false
	}
	for _, m := range s.messages {
		if m.ID == skipID || m.ToNumber != c.ToNumber || !matchesKind(m, kind) {
			continue
		}
		if m.Confirmed() == c.Confirmed() {
			return true
		}
	}
	return false
}

func (s *Store) stamp(m *model.Message) {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
}

func (s *Store) Insert(_ context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(&m)
	if s.uniqueViolation(m, "") {
		return apperr.Conflict("messages.insert", "duplicate message")
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *Store) InsertIgnoreBatch(_ context.Context, ms []model.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range ms {
		s.stamp(&m)
		if s.uniqueViolation(m, "") {
			continue
		}
		s.messages = append(s.messages, m)
		n++
	}
	return n, nil
}

func (s *Store) find(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		m := s.messages[i]
		return &m, nil
	}
	return nil, nil
}

func (s *Store) ListByPhone(_ context.Context, phone string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.FromNumber == phone || m.ToNumber == phone {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp().Before(out[j].Timestamp()) })
	return out, nil
}

func (s *Store) ExistsByProviderID(_ context.Context, p model.Provider, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerIDTaken(p, &id), nil
}

func (s *Store) UpdateResolution(_ context.Context, id string, studioID, contactID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		if studioID != nil {
			s.messages[i].StudioID = studioID
		}
		if contactID != nil {
			s.messages[i].ContactID = contactID
		}
		s.messages[i].UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) pending(to string, kind model.SentinelKind) *model.Message {
	var best *model.Message
	for i := range s.messages {
		m := s.messages[i]
		if m.ToNumber != to || !matchesKind(m, kind) || m.Confirmed() {
			continue
		}
		if best == nil || m.CreatedAt.After(best.CreatedAt) {
			cp := m
			best = &cp
		}
	}
	return best
}

func (s *Store) FindPendingSentinel(_ context.Context, to string, kind model.SentinelKind) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending(to, kind), nil
}

func (s *Store) CreateSentinel(_ context.Context, m model.Message) (*model.Message, error) {
	kind, ok := m.Kind()
	if !ok {
		return nil, apperr.Validation("messages.create_sentinel", "sentinel needs a workflow flag")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ProviderMessageID = nil
	s.stamp(&m)
	if !s.uniqueViolation(m, "") {
		s.messages = append(s.messages, m)
	}
	return s.pending(m.ToNumber, kind), nil
}

func (s *Store) HasConfirmed(_ context.Context, to string, kind model.SentinelKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ToNumber == to && matchesKind(m, kind) && m.Confirmed() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Claim(_ context.Context, id, token string, now time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return false, nil
	}
	m := &s.messages[i]
	if m.Confirmed() {
		return false, nil
	}
	if m.ClaimToken != nil && m.ClaimedAt != nil && !m.ClaimedAt.Before(now.Add(-lease)) {
		return false, nil
	}
	m.ClaimToken = &token
	m.ClaimedAt = &now
	m.Status = model.StatusSending
	m.UpdatedAt = now
	return true, nil
}

func (s *Store) Confirm(_ context.Context, id, token string, c repository.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 || model.Deref(s.messages[i].ClaimToken) != token {
		return apperr.Conflict("messages.confirm", "claim on %s lost", id)
	}
	next := s.messages[i]
	next.Provider = c.Provider
	next.ProviderMessageID = &c.ProviderMessageID
	if s.uniqueViolation(next, id) {
		return apperr.Conflict("messages.confirm", "recipient already has a confirmed message of this kind")
	}
	next.FromNumber = c.FromNumber
	next.Body = c.Body
	next.Status = model.StatusSent
	next.ErrorCode, next.ErrorMessage = nil, nil
	next.ClaimToken, next.ClaimedAt = nil, nil
	at := c.At
	next.MessageDate = &at
	if c.StudioID != nil {
		next.StudioID = c.StudioID
	}
	if c.ContactID != nil {
		next.ContactID = c.ContactID
	}
	next.UpdatedAt = c.At
	s.messages[i] = next
	return nil
}

func (s *Store) Release(_ context.Context, id, token string, f repository.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 || model.Deref(s.messages[i].ClaimToken) != token {
		return nil
	}
	m := &s.messages[i]
	if f.Provider != "" {
		m.Provider = f.Provider
	}
	m.Status = model.StatusFailed
	m.ErrorCode = model.StrPtr(f.ErrorCode)
	m.ErrorMessage = model.StrPtr(f.ErrorMessage)
	m.ClaimToken, m.ClaimedAt = nil, nil
	m.UpdatedAt = f.At
	return nil
}

func (s *Store) ListPendingSince(_ context.Context, kind model.SentinelKind, since time.Time) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if matchesKind(m, kind) && !m.Confirmed() && !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- studios ----

func (s *Store) studio(pred func(model.Studio) bool) *model.Studio {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fallback *model.Studio
	for _, st := range s.studios {
		if !pred(st) {
			continue
		}
		cp := st
		if st.Active {
			return &cp
		}
		if fallback == nil {
			fallback = &cp
		}
	}
	return fallback
}

// StudiosRepository methods live on a view because the method names collide
// with MessagesRepository.GetByID.
func (s *Store) Studios() repository.StudiosRepository { return studioView{s} }

type studioView struct{ s *Store }

func (v studioView) GetByID(_ context.Context, id string) (*model.Studio, error) {
	return v.s.studio(func(st model.Studio) bool { return st.ID == id }), nil
}

func (v studioView) GetByPhone(_ context.Context, phone string) (*model.Studio, error) {
	phone = util.NormalizePhone(phone)
	return v.s.studio(func(st model.Studio) bool {
		return phone != "" && (model.Deref(st.TwilioPhone) == phone || model.Deref(st.RingCentralPhone) == phone)
	}), nil
}

func (v studioView) GetByOwnerID(_ context.Context, ownerID string) (*model.Studio, error) {
	return v.s.studio(func(st model.Studio) bool { return st.Active && model.Deref(st.ZohoOwnerID) == ownerID }), nil
}

func (v studioView) GetByName(_ context.Context, name string) (*model.Studio, error) {
	return v.s.studio(func(st model.Studio) bool { return strings.EqualFold(st.Name, name) }), nil
}

func (v studioView) ListActive(_ context.Context) ([]model.Studio, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []model.Studio
	for _, st := range v.s.studios {
		if st.Active {
			out = append(out, st)
		}
	}
	return out, nil
}

// ---- accounts ----

func (s *Store) Accounts() repository.AccountsRepository { return accountView{s} }

type accountView struct{ s *Store }

func (v accountView) GetForStudio(_ context.Context, studioID string, platform model.Platform) (*model.Account, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, l := range v.s.links {
		if l.StudioID != studioID {
			continue
		}
		if a, ok := v.s.accounts[l.AccountID]; ok && a.Platform == platform {
			return &a, nil
		}
	}
	return nil, nil
}

func (v accountView) GetByID(_ context.Context, id string) (*model.Account, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if a, ok := v.s.accounts[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (v accountView) UpdateToken(_ context.Context, id, accessToken, refreshToken string, expiresIn int64, prev, now time.Time) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	a, ok := v.s.accounts[id]
	if !ok || !a.UpdatedAt.Equal(prev) {
		return false, nil
	}
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.ExpiresIn = expiresIn
	a.UpdatedAt = now
	v.s.accounts[id] = a
	return true, nil
}

// ---- zoho tasks ----

func (s *Store) ZohoTasks() repository.ZohoTasksRepository { return taskView{s} }

type taskView struct{ s *Store }

func (v taskView) GetByMessageID(_ context.Context, messageID string) (*model.ZohoTask, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, t := range v.s.tasks {
		if t.MessageID == messageID {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (v taskView) Insert(_ context.Context, t model.ZohoTask) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, existing := range v.s.tasks {
		if existing.MessageID == t.MessageID {
			return apperr.Conflict("zoho_tasks.insert", "task already linked to message %s", t.MessageID)
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	v.s.tasks = append(v.s.tasks, t)
	return nil
}
