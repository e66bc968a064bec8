package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"chatwrap/model"
)

// previewWidth is the display width of a search preview, in terminal cells.
const previewWidth = 100

// MessageMatch is one search hit inside a session.
type MessageMatch struct {
	SessionID   string
	ThreadID    string
	ThreadTitle string
	MessageID   string
	Role        model.Role
	Preview     string
	Timestamp   time.Time
	Score       int
}

// Preview collapses newlines and truncates content to a fixed display width.
func Preview(content string) string {
	flat := strings.Join(strings.Fields(content), " ")
	return runewidth.Truncate(flat, previewWidth, "...")
}

// SearchSession finds messages whose content contains query
// (case-insensitive). System messages are skipped.
func SearchSession(session *model.Session, query string) []MessageMatch {
	if query == "" || session == nil {
		return []MessageMatch{}
	}

	queryLower := strings.ToLower(query)
	matches := []MessageMatch{}

	for _, thread := range session.Threads {
		for _, msg := range thread.Messages {
			if msg.Role == model.RoleSystem {
				continue
			}
			if !strings.Contains(strings.ToLower(msg.Content), queryLower) {
				continue
			}
			matches = append(matches, MessageMatch{
				SessionID:   session.ID,
				ThreadID:    thread.ID,
				ThreadTitle: thread.Title,
				MessageID:   msg.ID,
				Role:        msg.Role,
				Preview:     Preview(msg.Content),
				Timestamp:   msg.Timestamp,
				Score:       strings.Count(strings.ToLower(msg.Content), queryLower),
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// ThreadMatch is a fuzzy title hit.
type ThreadMatch struct {
	ThreadID string
	Title    string
	Score    int
}

type threadTitles []model.Thread

func (t threadTitles) String(i int) string { return t[i].Title }
func (t threadTitles) Len() int            { return len(t) }

// SearchThreads ranks threads by fuzzy match of query against their titles.
func SearchThreads(session *model.Session, query string) []ThreadMatch {
	if query == "" || session == nil {
		return []ThreadMatch{}
	}

	results := fuzzy.FindFrom(query, threadTitles(session.Threads))
	out := make([]ThreadMatch, 0, len(results))
	for _, r := range results {
		out = append(out, ThreadMatch{
			ThreadID: session.Threads[r.Index].ID,
			Title:    r.Str,
			Score:    r.Score,
		})
	}
	return out
}

// SearchIndex searches across every stored session.
type SearchIndex struct {
	repo *SessionRepository
}

func NewSearchIndex(repo *SessionRepository) *SearchIndex {
	return &SearchIndex{repo: repo}
}

func (si *SearchIndex) SearchAllSessions(ctx context.Context, query string) ([]MessageMatch, error) {
	if query == "" {
		return []MessageMatch{}, nil
	}

	sessionList, err := si.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	var matches []MessageMatch
	for _, meta := range sessionList {
		session, err := si.repo.Load(ctx, meta.ID)
		if err != nil {
			continue
		}
		matches = append(matches, SearchSession(session, query)...)
	}

	return matches, nil
}
