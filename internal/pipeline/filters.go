package pipeline

import (
	"strings"

	"github.com/blackmichael/skystream/internal/event"
	"github.com/blackmichael/skystream/internal/record"
)

// Post is a post record extracted from a commit, with the event it came from.
type Post struct {
	Event  event.Event
	URI    string
	CID    string
	Action string
	Record *record.Post
}

// TokenizedPost is a post paired with its segmented text. Each token is a
// feature vector: the surface form followed by the analyzer's fields.
type TokenizedPost struct {
	Post   Post
	Tokens [][]string
}

// Segmenter splits text into feature vectors.
type Segmenter interface {
	Tokenize(text string) [][]string
}

// PassThrough forwards every event unchanged.
func PassThrough(ev event.Event) []event.Event {
	return []event.Event{ev}
}

// Relay forwards every item unchanged.
func Relay[T any](item T) []T {
	return []T{item}
}

// CommitFilter keeps commit events.
func CommitFilter(ev event.Event) []event.Event {
	if ev.Kind() != event.KindCommit {
		return nil
	}
	return []event.Event{ev}
}

// PostFilter emits one Post per post record the commit creates or updates.
func PostFilter(ev event.Event) []Post {
	c, ok := ev.(event.Committer)
	if !ok {
		return nil
	}

	var posts []Post
	for _, op := range c.Ops() {
		p, ok := op.Record.(*record.Post)
		if !ok {
			continue
		}
		posts = append(posts, Post{
			Event:  ev,
			URI:    op.URI(),
			CID:    op.CID,
			Action: op.Action,
			Record: p,
		})
	}
	return posts
}

// LangFilter keeps posts that declare lang among their languages. A declared
// tag with a region or script subtag ("ja-JP") matches its primary language.
func LangFilter(lang string) Transform[Post, Post] {
	return func(p Post) []Post {
		for _, l := range p.Record.Langs {
			primary, _, _ := strings.Cut(l, "-")
			if strings.EqualFold(l, lang) || strings.EqualFold(primary, lang) {
				return []Post{p}
			}
		}
		return nil
	}
}

// Tokenize segments each post's text with seg.
func Tokenize(seg Segmenter) Transform[Post, TokenizedPost] {
	return func(p Post) []TokenizedPost {
		return []TokenizedPost{{
			Post:   p,
			Tokens: seg.Tokenize(p.Record.Text),
		}}
	}
}
