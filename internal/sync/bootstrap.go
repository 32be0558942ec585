package sync

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

const historyLimit = 200

// Directory is the remote source of contacts and history.
type Directory interface {
	Contacts(ctx context.Context) ([]backend.Contact, error)
	Messages(ctx context.Context, contactID string) ([]chat.WireMessage, error)
}

// Hydrate fills the engine from the local cache, then from the backend.
// Cache errors are logged; a backend error is returned after the cache has
// been applied, so the engine stays usable offline. cache and dir may be nil.
func (e *Engine) Hydrate(ctx context.Context, cache *store.DB, dir Directory) error {
	if cache != nil {
		if err := e.restoreCache(cache); err != nil {
			e.logger.Warn("cache restore incomplete", zap.Error(err))
		}
	}
	if dir == nil {
		return nil
	}
	return e.fetchRemote(ctx, cache, dir)
}

func (e *Engine) restoreCache(cache *store.DB) error {
	contacts, err := cache.ListContacts()
	if err != nil {
		return fmt.Errorf("list cached contacts: %w", err)
	}
	seed := make([]presence.Contact, 0, len(contacts))
	for _, c := range contacts {
		pc := presence.Contact{ID: c.ID, DisplayName: c.DisplayName, AvatarURL: c.AvatarURL}
		if c.LastSeen > 0 {
			pc.LastSeen = time.UnixMilli(c.LastSeen).UTC()
		}
		seed = append(seed, pc)
	}
	if err := e.SeedContacts(seed); err != nil {
		return err
	}

	convs, err := cache.ListConversations(1000, 0)
	if err != nil {
		return fmt.Errorf("list cached conversations: %w", err)
	}
	total := 0
	for _, conv := range convs {
		msgs, err := cache.ListMessages(conv.ContactID, 0, historyLimit)
		if err != nil {
			return fmt.Errorf("list cached messages of %s: %w", conv.ContactID, err)
		}
		slices.Reverse(msgs)
		n, err := e.Restore(conv.ContactID, msgs, false)
		if err != nil {
			return err
		}
		total += n
	}
	e.logger.Info("restored from cache", zap.Int("conversations", len(convs)), zap.Int("messages", total))
	return nil
}

func (e *Engine) fetchRemote(ctx context.Context, cache *store.DB, dir Directory) error {
	contacts, err := dir.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("fetch contacts: %w", err)
	}

	seed := make([]presence.Contact, 0, len(contacts))
	rows := make([]store.Contact, 0, len(contacts))
	for _, c := range contacts {
		pc := presence.Contact{ID: c.ID, DisplayName: c.Name, AvatarURL: c.Avatar, Online: c.Online}
		row := store.Contact{ID: c.ID, DisplayName: c.Name, AvatarURL: c.Avatar}
		if c.LastSeen != nil {
			pc.LastSeen = *c.LastSeen
			row.LastSeen = c.LastSeen.UnixMilli()
		}
		seed = append(seed, pc)
		rows = append(rows, row)
	}
	if err := e.SeedContacts(seed); err != nil {
		return err
	}
	if cache != nil {
		if err := cache.BulkUpsertContacts(rows); err != nil {
			e.logger.Error("cache contacts", zap.Error(err))
		}
	}

	total := 0
	for _, c := range contacts {
		wire, err := dir.Messages(ctx, c.ID)
		if err != nil {
			// One broken conversation does not block the rest.
			e.logger.Warn("fetch history", zap.String("contact_id", c.ID), zap.Error(err))
			continue
		}
		msgs := make([]chat.Message, 0, len(wire))
		for _, w := range wire {
			msgs = append(msgs, w.Message(e.opts.SelfID))
		}
		n, err := e.Restore(c.ID, msgs, true)
		if err != nil {
			return err
		}
		total += n
	}
	e.logger.Info("history fetched", zap.Int("contacts", len(contacts)), zap.Int("new_messages", total))
	return nil
}
