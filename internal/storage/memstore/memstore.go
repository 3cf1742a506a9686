// Package memstore is an in-memory store with optimistic concurrency
// control. Every record carries a version; a transaction commits only if
// nothing it read has changed since. It backs local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/storage"
	"github.com/pkg/errors"
)

type boxRecord struct {
	box     models.Box
	version uint64
}

type membershipRecord struct {
	m       models.UserBoxMembership
	version uint64
}

type Store struct {
	mu       sync.Mutex
	boxes    map[string]*boxRecord
	members  map[string]*membershipRecord
	packages map[string]*models.PackageInfo
}

func New() *Store {
	return &Store{
		boxes:    make(map[string]*boxRecord),
		members:  make(map[string]*membershipRecord),
		packages: make(map[string]*models.PackageInfo),
	}
}

func (s *Store) Close() {}

// ProvisionBox inserts a box if it does not exist yet.
func (s *Store) ProvisionBox(ctx context.Context, box *models.Box) error {
	if box == nil || box.ID == "" {
		return errors.New("box id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[box.ID]; ok {
		return nil
	}
	b := cloneBox(box)
	if b.Status == "" {
		b.Status = models.BoxStatusAvailable
	}
	s.boxes[box.ID] = &boxRecord{box: b, version: 1}
	return nil
}

func (s *Store) GetBox(ctx context.Context, boxID string) (*models.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.boxes[boxID]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "box %s", boxID)
	}
	b := cloneBox(&rec.box)
	return &b, nil
}

func (s *Store) GetMembership(ctx context.Context, userID string) (*models.UserBoxMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.members[userID]; ok {
		m := cloneMembership(&rec.m)
		return &m, nil
	}
	return &models.UserBoxMembership{UserID: userID, BoxAliases: map[string]string{}}, nil
}

// RunInTx runs fn against a private snapshot and commits its writes only if
// every record fn read is still at the version it saw.
func (s *Store) RunInTx(ctx context.Context, fn storage.TxFunc) error {
	tx := &boxTx{
		s:            s,
		boxReads:     map[string]uint64{},
		memberReads:  map[string]uint64{},
		boxWrites:    map[string]models.Box{},
		memberWrites: map[string]models.UserBoxMembership{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type boxTx struct {
	s *Store

	boxReads    map[string]uint64
	memberReads map[string]uint64

	boxWrites    map[string]models.Box
	memberWrites map[string]models.UserBoxMembership
}

func (t *boxTx) GetBoxForUpdate(ctx context.Context, boxID string) (*models.Box, error) {
	if b, ok := t.boxWrites[boxID]; ok {
		c := cloneBox(&b)
		return &c, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.boxes[boxID]
	if !ok {
		t.boxReads[boxID] = 0
		return nil, errors.Wrapf(models.ErrNotFound, "box %s", boxID)
	}
	t.boxReads[boxID] = rec.version
	b := cloneBox(&rec.box)
	return &b, nil
}

func (t *boxTx) GetMembershipForUpdate(ctx context.Context, userID string) (*models.UserBoxMembership, error) {
	if m, ok := t.memberWrites[userID]; ok {
		c := cloneMembership(&m)
		return &c, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.members[userID]
	if !ok {
		t.memberReads[userID] = 0
		return &models.UserBoxMembership{UserID: userID, BoxAliases: map[string]string{}}, nil
	}
	t.memberReads[userID] = rec.version
	m := cloneMembership(&rec.m)
	return &m, nil
}

func (t *boxTx) PutBox(ctx context.Context, box *models.Box) error {
	if _, read := t.boxReads[box.ID]; !read {
		return errors.Errorf("box %s written without being read in this transaction", box.ID)
	}
	t.boxWrites[box.ID] = cloneBox(box)
	return nil
}

func (t *boxTx) PutMembership(ctx context.Context, m *models.UserBoxMembership) error {
	if _, read := t.memberReads[m.UserID]; !read {
		return errors.Errorf("membership %s written without being read in this transaction", m.UserID)
	}
	t.memberWrites[m.UserID] = cloneMembership(m)
	return nil
}

func (t *boxTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id, v := range t.boxReads {
		if currentBoxVersion(t.s, id) != v {
			return errors.Wrapf(models.ErrConflict, "box %s changed concurrently", id)
		}
	}
	for id, v := range t.memberReads {
		if currentMemberVersion(t.s, id) != v {
			return errors.Wrapf(models.ErrConflict, "membership %s changed concurrently", id)
		}
	}

	for id, b := range t.boxWrites {
		t.s.boxes[id] = &boxRecord{box: b, version: currentBoxVersion(t.s, id) + 1}
	}
	for id, m := range t.memberWrites {
		t.s.members[id] = &membershipRecord{m: m, version: currentMemberVersion(t.s, id) + 1}
	}
	return nil
}

func currentBoxVersion(s *Store, id string) uint64 {
	if rec, ok := s.boxes[id]; ok {
		return rec.version
	}
	return 0
}

func currentMemberVersion(s *Store, id string) uint64 {
	if rec, ok := s.members[id]; ok {
		return rec.version
	}
	return 0
}

func cloneBox(b *models.Box) models.Box {
	out := *b
	if b.RegisteredAt != nil {
		t := *b.RegisteredAt
		out.RegisteredAt = &t
	}
	if b.Members != nil {
		out.Members = make(map[string]string, len(b.Members))
		for k, v := range b.Members {
			out.Members[k] = v
		}
	}
	return out
}

func cloneMembership(m *models.UserBoxMembership) models.UserBoxMembership {
	out := *m
	out.BoxAliases = make(map[string]string, len(m.BoxAliases))
	for k, v := range m.BoxAliases {
		out.BoxAliases[k] = v
	}
	return out
}

func clonePackage(p *models.PackageInfo) *models.PackageInfo {
	out := *p
	out.DeliverySteps = make([]models.DeliveryStep, len(p.DeliverySteps))
	copy(out.DeliverySteps, p.DeliverySteps)
	out.DeliveredAt = cloneTime(p.DeliveredAt)
	out.EstimatedDelivery = cloneTime(p.EstimatedDelivery)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func sortPackages(ps []*models.PackageInfo) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].RegisteredAt.Equal(ps[j].RegisteredAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].RegisteredAt.Before(ps[j].RegisteredAt)
	})
}
