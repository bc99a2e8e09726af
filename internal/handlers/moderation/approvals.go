package handlers

import (
	"context"
	"fmt"

	"github.com/iamwavecut/ngwarden/internal/db"
)

// Approvals lists per-chat users exempt from blacklist enforcement.
type Approvals struct {
	records db.Records[db.Approval]
	locks   *keyedMutex
}

func NewApprovals(store db.Store) *Approvals {
	return &Approvals{
		records: db.NewRecords[db.Approval](store.Collection(db.CollectionApprovals)),
		locks:   newKeyedMutex(),
	}
}

func (a *Approvals) get(ctx context.Context, chatID int64) (*db.Approval, error) {
	approval, err := a.records.Get(ctx, db.ChatKey(chatID))
	if err != nil {
		return nil, fmt.Errorf("get approvals %d: %w", chatID, err)
	}
	if approval == nil {
		return &db.Approval{ChatID: chatID}, nil
	}
	return approval, nil
}

func (a *Approvals) IsApproved(ctx context.Context, chatID, userID int64) (bool, error) {
	approval, err := a.get(ctx, chatID)
	if err != nil {
		return false, err
	}
	return approval.Has(userID), nil
}

// Approve adds the user once; added is false if they were already approved.
func (a *Approvals) Approve(ctx context.Context, chatID, userID int64, name string) (added bool, err error) {
	unlock := a.locks.Lock(db.ChatKey(chatID))
	defer unlock()

	approval, err := a.get(ctx, chatID)
	if err != nil {
		return false, err
	}
	if approval.Has(userID) {
		return false, nil
	}
	approval.Users = append(approval.Users, db.ApprovedUser{UserID: userID, Name: name})
	if err := a.records.Put(ctx, db.ChatKey(chatID), approval); err != nil {
		return false, fmt.Errorf("put approvals %d: %w", chatID, err)
	}
	return true, nil
}

// Unapprove is a no-op when the user is not approved.
func (a *Approvals) Unapprove(ctx context.Context, chatID, userID int64) (removed bool, err error) {
	unlock := a.locks.Lock(db.ChatKey(chatID))
	defer unlock()

	approval, err := a.get(ctx, chatID)
	if err != nil {
		return false, err
	}
	kept := approval.Users[:0]
	for _, u := range approval.Users {
		if u.UserID == userID {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	if !removed {
		return false, nil
	}
	approval.Users = kept
	if err := a.records.Put(ctx, db.ChatKey(chatID), approval); err != nil {
		return false, fmt.Errorf("put approvals %d: %w", chatID, err)
	}
	return true, nil
}

func (a *Approvals) List(ctx context.Context, chatID int64) ([]db.ApprovedUser, error) {
	approval, err := a.get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return approval.Users, nil
}

// UnapproveAll clears the chat's list and returns how many users it held.
func (a *Approvals) UnapproveAll(ctx context.Context, chatID int64) (int, error) {
	unlock := a.locks.Lock(db.ChatKey(chatID))
	defer unlock()

	approval, err := a.get(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if _, err := a.records.Delete(ctx, db.ChatKey(chatID)); err != nil {
		return 0, fmt.Errorf("delete approvals %d: %w", chatID, err)
	}
	return len(approval.Users), nil
}
