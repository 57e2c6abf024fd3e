package imap

import (
	"context"
	"errors"
	"sort"
)

const DefaultFetchLimit = 50

// FetchRecent selects folder and fetches up to limit of its newest messages.
// The UID of each result is zero when the server omitted it.
func (s *Session) FetchRecent(ctx context.Context, folder string, limit int) ([]Fetched, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.selectFolder(ctx, folder); err != nil {
		return nil, err
	}
	seqs, err := s.search(ctx, "SEARCH ALL")
	if err != nil {
		return nil, err
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if len(seqs) > limit {
		seqs = seqs[len(seqs)-limit:]
	}
	return s.fetchEach(ctx, folder, "FETCH", seqs)
}

// FetchSince selects folder and fetches messages with a UID strictly greater
// than uid, oldest first, at most limit of them.
func (s *Session) FetchSince(ctx context.Context, folder string, uid uint32, limit int) ([]Fetched, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.selectFolder(ctx, folder); err != nil {
		return nil, err
	}
	uids, err := s.searchUIDsAfter(ctx, uid)
	if err != nil {
		return nil, err
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if len(uids) > limit {
		uids = uids[:limit]
	}
	return s.fetchEach(ctx, folder, "UID FETCH", uids)
}

// fetchEach does the two round trips per message. A message whose envelope
// fetch is refused is skipped before its body is requested.
func (s *Session) fetchEach(ctx context.Context, folder, verb string, ids []uint32) ([]Fetched, error) {
	out := make([]Fetched, 0, len(ids))
	for _, id := range ids {
		envRaw, err := s.fetch(ctx, verb, id, "(UID FLAGS ENVELOPE)")
		if err != nil {
			if skippable(err) {
				s.log.Warn().Err(err).Str("folder", folder).Uint32("id", id).Msg("skipping message without envelope")
				continue
			}
			return out, err
		}
		bodyRaw, err := s.fetch(ctx, verb, id, "(UID BODY.PEEK[])")
		if err != nil {
			if skippable(err) {
				s.log.Warn().Err(err).Str("folder", folder).Uint32("id", id).Msg("body fetch refused, keeping envelope")
				bodyRaw = ""
			} else {
				return out, err
			}
		}

		msg := s.assembler.Assemble(folder, envRaw, bodyRaw)
		if msg.UID == 0 && verb == "UID FETCH" {
			msg = msg.WithUID(s.assembler.Account, id)
		}
		out = append(out, Fetched{Message: msg, UID: msg.UID, Flags: msg.Flags})
	}
	return out, nil
}

// skippable is true for per-message refusals; transport failures end the pass.
func skippable(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

