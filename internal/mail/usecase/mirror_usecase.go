package usecase

import (
	"sort"

	maildomain "jobtrail-backend/internal/mail/domain"
	"jobtrail-backend/internal/mail/repository"
	"jobtrail-backend/pkg/fuzzy"
)

// searchScanWindow bounds how many recent messages a fuzzy search scans.
const searchScanWindow = 500

// MirrorReader exposes read access to the mirrored mailbox.
type MirrorReader interface {
	List(userID string, limit, offset int) ([]*maildomain.Message, int64, error)
	// Search fuzzy-matches recent messages against subject, sender,
	// extracted company, and snippet, best matches first.
	Search(userID, query string, limit int) ([]*maildomain.Message, error)
}

type mirrorReader struct {
	msgRepo repository.MessageRepository
}

func NewMirrorReader(msgRepo repository.MessageRepository) MirrorReader {
	return &mirrorReader{msgRepo: msgRepo}
}

func (m *mirrorReader) List(userID string, limit, offset int) ([]*maildomain.Message, int64, error) {
	return m.msgRepo.List(userID, limit, offset)
}

func (m *mirrorReader) Search(userID, query string, limit int) ([]*maildomain.Message, error) {
	candidates, err := m.msgRepo.ListRecent(userID, searchScanWindow)
	if err != nil {
		return nil, err
	}

	type scored struct {
		msg   *maildomain.Message
		score float64
	}

	var matches []scored
	for _, msg := range candidates {
		if !fuzzy.MatchMessage(query, msg.Subject, msg.Sender, msg.Company, msg.Snippet) {
			continue
		}
		matches = append(matches, scored{
			msg:   msg,
			score: fuzzy.ScoreMessage(query, msg.Subject, msg.Sender, msg.Company),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]*maildomain.Message, 0, len(matches))
	for _, m := range matches {
		results = append(results, m.msg)
	}
	return results, nil
}
