package control

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/lightningnetwork/lnd/fn/v2"

	"fwdbot/internal/tenant"
)

// AccountLimit is the number of accounts the tenant may register, 0 meaning
// unlimited.
func (s *Service) AccountLimit(t tenant.Tenant) int {
	if t.Premium {
		return 0
	}
	return s.freeLimit
}

// AddAccount connects credential and registers it under name. The handle
// is dialed first so an invalid credential is never stored.
func (s *Service) AddAccount(ctx context.Context, id int64, name, credential string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := t.Accounts[name]; ok {
		return ErrAccountExists
	}
	if limit := s.AccountLimit(t); limit > 0 && len(t.Accounts) >= limit {
		return ErrAccountLimit
	}
	if _, err := s.accounts.Connect(ctx, id, name, credential); err != nil {
		return err
	}
	accts := maps.Clone(t.Accounts)
	if accts == nil {
		accts = map[string]string{}
	}
	accts[name] = credential
	if err := s.store.Set(ctx, id, tenant.FieldAccounts, accts); err != nil {
		s.accounts.Disconnect(id, name)
		return err
	}
	s.record(ctx, id, fmt.Sprintf("Account %q added", name))
	return nil
}

// RemoveAccount forgets an account and disconnects it. A loop running on
// it moves to a remaining account, or stops when none is left.
func (s *Service) RemoveAccount(ctx context.Context, id int64, name string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := t.Accounts[name]; !ok {
		return ErrAccountNotFound
	}
	accts := maps.Clone(t.Accounts)
	delete(accts, name)
	if err := s.store.Set(ctx, id, tenant.FieldAccounts, accts); err != nil {
		return err
	}
	info, running := s.loops.Info(id)
	inUse := running && info.Account == name
	if inUse {
		if err := s.stop(ctx, id); err != nil {
			return err
		}
	}
	s.accounts.Disconnect(id, name)
	s.record(ctx, id, fmt.Sprintf("Account %q removed", name))

	if inUse && len(accts) > 0 {
		t.Accounts = accts
		acct, err := s.accounts.Pick(ctx, t)
		if err != nil {
			return err
		}
		if _, err := s.loops.Start(id, acct, t.Delay()); err != nil {
			return err
		}
	}
	return nil
}

// SetSource designates the message every cycle forwards.
func (s *Service) SetSource(ctx context.Context, id int64, ref tenant.SourceRef) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := s.store.Ensure(ctx, id); err != nil {
		return err
	}
	if err := s.store.Set(ctx, id, tenant.FieldSource, fn.Some(ref)); err != nil {
		return err
	}
	s.record(ctx, id, fmt.Sprintf("Source set to message %d in chat %d", ref.MessageID, ref.ChatID))
	return nil
}

// ClearSource unsets the source and stops a running loop. stopped reports
// whether one was running.
func (s *Service) ClearSource(ctx context.Context, id int64) (stopped bool, err error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := s.store.Ensure(ctx, id); err != nil {
		return false, err
	}
	if err := s.store.Set(ctx, id, tenant.FieldSource, fn.None[tenant.SourceRef]()); err != nil {
		return false, err
	}
	running := s.loops.IsRunning(id)
	if err := s.stop(ctx, id); err != nil {
		return false, err
	}
	if running {
		s.record(ctx, id, "Source cleared; forwarding stopped")
	} else {
		s.record(ctx, id, "Source cleared")
	}
	return running, nil
}

func (s *Service) AddGroup(ctx context.Context, id, chatID int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return err
	}
	if t.HasGroup(chatID) {
		return ErrGroupExists
	}
	groups := append(slices.Clone(t.Groups), chatID)
	if err := s.store.Set(ctx, id, tenant.FieldGroups, groups); err != nil {
		return err
	}
	s.record(ctx, id, fmt.Sprintf("Group %d added", chatID))
	return nil
}

func (s *Service) RemoveGroup(ctx context.Context, id, chatID int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return err
	}
	if !t.HasGroup(chatID) {
		return ErrGroupNotFound
	}
	groups := slices.DeleteFunc(slices.Clone(t.Groups), func(g int64) bool { return g == chatID })
	if err := s.store.Set(ctx, id, tenant.FieldGroups, groups); err != nil {
		return err
	}
	s.record(ctx, id, fmt.Sprintf("Group %d removed", chatID))
	return nil
}

// DetectGroups enumerates the destinations the tenant's account can reach.
func (s *Service) DetectGroups(ctx context.Context, id int64) ([]string, error) {
	t, err := s.store.Ensure(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.HasAccounts() {
		return nil, &tenant.AdmissionError{Reason: tenant.ReasonNoAccount}
	}
	acct, err := s.accounts.Pick(ctx, t)
	if err != nil {
		return nil, err
	}
	dsts, err := acct.Destinations(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dsts))
	for _, d := range dsts {
		names = append(names, d.Name())
	}
	return names, nil
}
