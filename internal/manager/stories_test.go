package manager

import (
	"context"
	"testing"
	"time"

	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/storage"
)

func story(id, author string) model.Story {
	return model.Story{ID: id, AuthorID: author, Author: model.ProfileRef{FirstName: author}}
}

func TestGroupStoriesOwnFirst(t *testing.T) {
	stories := []model.Story{story("s1", "u2"), story("s2", "u1"), story("s3", "u3"), story("s4", "u2")}
	groups := GroupStories("u1", stories, map[string]bool{"s3": true})
	if len(groups) != 3 {
		t.Fatalf("groups = %d", len(groups))
	}
	if groups[0].User.ID != "u1" || groups[0].HasUnseen {
		t.Errorf("own group = %+v", groups[0])
	}
	if groups[1].User.ID != "u2" || len(groups[1].Stories) != 2 || !groups[1].HasUnseen {
		t.Errorf("u2 group = %+v", groups[1])
	}
	if groups[2].User.ID != "u3" || groups[2].HasUnseen {
		t.Errorf("u3 group = %+v", groups[2])
	}
}

func TestStoryObjectPath(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	if got := storyObjectPath("u1", "Field.PNG", at); got != "stories/u1/1700000000123.png" {
		t.Errorf("path = %s", got)
	}
	if got := storyObjectPath("u1", "noext", at); got != "stories/u1/1700000000123.jpg" {
		t.Errorf("path = %s", got)
	}
}

func TestStoryDraftRoundTrip(t *testing.T) {
	gw, _ := newTestGateway(newFakeDB(), "u1")
	store := newMemStore()
	m := NewStoriesManager(gw, store)
	ctx := context.Background()

	if d, err := m.LoadDraft(ctx); err != nil || d != nil {
		t.Fatalf("empty draft = %+v, %v", d, err)
	}
	if err := m.SaveDraft(ctx, model.StoryDraft{Caption: "Harvest day"}); err != nil {
		t.Fatal(err)
	}
	d, err := m.LoadDraft(ctx)
	if err != nil || d == nil || d.Caption != "Harvest day" || d.SavedAt.IsZero() {
		t.Fatalf("draft = %+v, %v", d, err)
	}
	if err := m.ClearDraft(ctx); err != nil {
		t.Fatal(err)
	}
	if d, _ := m.LoadDraft(ctx); d != nil {
		t.Errorf("draft survived clear: %+v", d)
	}
}

func TestLoadDraftDropsCorrupt(t *testing.T) {
	gw, _ := newTestGateway(newFakeDB(), "u1")
	store := newMemStore()
	store.m[storage.StoryDraftKey("u1")] = "{not json"
	d, err := NewStoriesManager(gw, store).LoadDraft(context.Background())
	if err != nil || d != nil {
		t.Fatalf("draft = %+v, %v", d, err)
	}
	if _, ok := store.m[storage.StoryDraftKey("u1")]; ok {
		t.Error("corrupt draft must be removed")
	}
}

func TestViewStoryOnlyOnce(t *testing.T) {
	db := newFakeDB().on("FROM story_views", result{rows: [][]any{{true}}})
	gw, _ := newTestGateway(db, "u1")
	if err := NewStoriesManager(gw, nil).ViewStory(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if db.called("INSERT INTO story_views") != 0 {
		t.Error("seen story must not be inserted again")
	}
}
