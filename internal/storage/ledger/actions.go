package ledger

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vadiminshakov/sniper/internal/domain"
)

// ActionStore is the approval ledger: at most one action per pair, with
// one-way transitions pending -> approved | cancelled. Re-registering a
// pair resets it to pending and re-arms the notification marker.
type ActionStore struct {
	db *gorm.DB
}

// ErrNotPending is returned when authorize/cancel hits an action that
// already left the pending state.
var ErrNotPending = errors.New("action is not pending")

// Register upserts the pair's action back to pending. This is the only way
// out of a terminal state.
func (s *ActionStore) Register(pair string, typ domain.ActionType, reason string) error {
	row := actionModel{
		PairAddress: pair,
		Type:        string(typ),
		State:       string(domain.ActionPending),
		Reason:      reason,
		CreatedAt:   time.Now().Unix(),
		NotifiedAt:  nil,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_address"}},
		UpdateAll: true,
	}).Create(&row).Error
	return errors.Wrapf(err, "register action for %s", pair)
}

// Authorize transitions pending -> approved.
func (s *ActionStore) Authorize(pair string) error {
	return s.transition(pair, domain.ActionApproved)
}

// Cancel transitions pending -> cancelled.
func (s *ActionStore) Cancel(pair string) error {
	return s.transition(pair, domain.ActionCancelled)
}

func (s *ActionStore) transition(pair string, to domain.ActionState) error {
	res := s.db.Model(&actionModel{}).
		Where("pair_address = ? AND state = ?", pair, string(domain.ActionPending)).
		Update("state", string(to))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "transition action %s to %s", pair, to)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotPending, "pair %s", pair)
	}
	return nil
}

// MarkNotified records that the operator has been asked about this action.
func (s *ActionStore) MarkNotified(pair string) error {
	now := time.Now().Unix()
	err := s.db.Model(&actionModel{}).
		Where("pair_address = ?", pair).
		Update("notified_at", now).Error
	return errors.Wrapf(err, "mark action %s notified", pair)
}

// Get returns the action for a pair, or nil when none exists.
func (s *ActionStore) Get(pair string) (*domain.Action, error) {
	var row actionModel
	err := s.db.First(&row, "pair_address = ?", pair).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get action %s", pair)
	}
	a := toAction(row)
	return &a, nil
}

// ListByState returns every action in the given state.
func (s *ActionStore) ListByState(state domain.ActionState) ([]domain.Action, error) {
	var rows []actionModel
	if err := s.db.Where("state = ?", string(state)).Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "list actions in state %s", state)
	}
	out := make([]domain.Action, 0, len(rows))
	for _, r := range rows {
		out = append(out, toAction(r))
	}
	return out, nil
}

// Delete removes the action record entirely.
func (s *ActionStore) Delete(pair string) error {
	err := s.db.Delete(&actionModel{}, "pair_address = ?", pair).Error
	return errors.Wrapf(err, "delete action %s", pair)
}

func toAction(r actionModel) domain.Action {
	return domain.Action{
		PairAddress: r.PairAddress,
		Type:        domain.ActionType(r.Type),
		State:       domain.ActionState(r.State),
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt,
		NotifiedAt:  r.NotifiedAt,
	}
}
