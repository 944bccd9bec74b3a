package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/model"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func postBaseRow(id, author string, at time.Time) []any {
	return []any{id, author, "Maize is ready", []string{"Maize"}, "Lusaka", "Chongwe", []string{}, false, "",
		at, at, "Mary", "Banda", "", "Lusaka", "Chongwe", "smallholder"}
}

func postViewRow(id, author string, at time.Time, likes, comments int, liked bool) []any {
	return append(postBaseRow(id, author, at), likes, comments, liked)
}

func TestGetPostsFromView(t *testing.T) {
	db := newFakeDB().on("FROM posts_with_stats", result{rows: [][]any{
		postViewRow("p2", "u2", t0.Add(time.Hour), 3, 1, true),
		postViewRow("p1", "u1", t0, 0, 0, false),
	}})
	gw, _ := newTestGateway(db, "u1")
	posts, err := NewPostsManager(gw).GetPosts(context.Background(), PostFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 || posts[0].ID != "p2" {
		t.Fatalf("posts = %+v", posts)
	}
	if posts[0].LikesCount != 3 || !posts[0].UserLiked || posts[0].Author.ID != "u2" || posts[0].Author.FirstName != "Mary" {
		t.Errorf("post[0] = %+v", posts[0])
	}
	if db.called("FROM posts p") != 0 {
		t.Error("legacy path must not run when the view exists")
	}
}

func TestGetPostsFallsBackWithoutView(t *testing.T) {
	db := newFakeDB().
		on("FROM posts_with_stats", result{err: pgErr("42P01")}).
		on("FROM posts p", result{rows: [][]any{postBaseRow("p1", "u2", t0), postBaseRow("p2", "u3", t0)}}).
		on("COUNT(*)::int FROM post_likes", result{rows: [][]any{{"p1", 4}}}).
		on("COUNT(*)::int FROM comments", result{rows: [][]any{{"p2", 2}}}).
		on("SELECT post_id::text, 1 FROM post_likes", result{rows: [][]any{{"p1", 1}}})
	gw, _ := newTestGateway(db, "u1")
	posts, err := NewPostsManager(gw).GetPosts(context.Background(), PostFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("len = %d", len(posts))
	}
	if posts[0].LikesCount != 4 || !posts[0].UserLiked || posts[0].CommentsCount != 0 {
		t.Errorf("p1 = %+v", posts[0])
	}
	if posts[1].CommentsCount != 2 || posts[1].UserLiked {
		t.Errorf("p2 = %+v", posts[1])
	}
}

func TestGetPostsNotConfigured(t *testing.T) {
	m := NewPostsManager(gateway.New(gateway.Options{}))
	if _, err := m.GetPosts(context.Background(), PostFilter{}); !errors.Is(err, gateway.ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestLikePostDuplicateUnlikes(t *testing.T) {
	db := newFakeDB().
		on("INSERT INTO post_likes", result{}, result{err: pgErr("23505")}).
		on("DELETE FROM post_likes", result{tag: "DELETE 1"})
	gw, _ := newTestGateway(db, "u1")
	m := NewPostsManager(gw)

	first, err := m.LikePost(context.Background(), "P1")
	if err != nil || !first.Liked {
		t.Fatalf("first like = %+v, %v", first, err)
	}
	second, err := m.LikePost(context.Background(), "P1")
	if err != nil {
		t.Fatalf("duplicate like must not fail: %v", err)
	}
	if second.Liked {
		t.Error("duplicate like must end unliked")
	}
	if db.called("DELETE FROM post_likes") != 1 {
		t.Error("expected one unlike")
	}
}

func TestLikePostRequiresUser(t *testing.T) {
	gw, _ := newTestGateway(newFakeDB(), "")
	if _, err := NewPostsManager(gw).LikePost(context.Background(), "P1"); !errors.Is(err, gateway.ErrNotAuthenticated) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreatePostSkipsFailedUploads(t *testing.T) {
	db := newFakeDB().
		on("INSERT INTO posts", result{rows: [][]any{{"p9"}}}).
		on("FROM posts_with_stats", result{rows: [][]any{postViewRow("p9", "u1", t0, 0, 0, false)}})
	gw, _ := newTestGateway(db, "u1")
	store := &uploadRecorder{}
	gw.Storage = store
	p, err := NewPostsManager(gw).CreatePost(context.Background(), model.NewPost{
		Content: "Selling maize",
		Images: []model.Upload{
			{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("ok")},
			{Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("bad")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "p9" {
		t.Errorf("id = %s", p.ID)
	}
	if len(store.paths) != 1 {
		t.Fatalf("uploaded %v", store.paths)
	}
	var urls []string
	for _, c := range db.calls {
		if c.sql != "" && len(c.args) == 8 {
			urls, _ = c.args[5].([]string)
		}
	}
	if len(urls) != 1 {
		t.Errorf("inserted image urls = %v", urls)
	}
}

func TestCreatePostValidation(t *testing.T) {
	gw, _ := newTestGateway(newFakeDB(), "u1")
	m := NewPostsManager(gw)
	if _, err := m.CreatePost(context.Background(), model.NewPost{Content: "  "}); gateway.Classify(err) != gateway.KindValidation {
		t.Errorf("empty content err = %v", err)
	}
	_, err := m.CreatePost(context.Background(), model.NewPost{Content: "x", IsMarketPost: true, MarketType: "swap"})
	if gateway.Classify(err) != gateway.KindValidation {
		t.Errorf("bad market type err = %v", err)
	}
	_, err = m.CreatePost(context.Background(), model.NewPost{Content: "x", Images: []model.Upload{
		{Name: "a.exe", ContentType: "application/octet-stream", Data: []byte("x")},
	}})
	if gateway.Classify(err) != gateway.KindValidation {
		t.Errorf("bad upload err = %v", err)
	}
}

func TestDeletePostNotOwned(t *testing.T) {
	db := newFakeDB().on("UPDATE posts SET deleted_at", result{tag: "UPDATE 0"})
	gw, _ := newTestGateway(db, "u1")
	if err := NewPostsManager(gw).DeletePost(context.Background(), "p1"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSubscribeToPostsDeliversIDs(t *testing.T) {
	gw, b := newTestGateway(newFakeDB(), "u1")
	var got []string
	ch, err := NewPostsManager(gw).SubscribeToPosts(func(id, author string) { got = append(got, id+"/"+author) })
	if err != nil {
		t.Fatal(err)
	}
	b.Dispatch([]byte(`{"table":"posts","type":"INSERT","record":{"id":"p1","author_id":"u2"}}`))
	b.Dispatch([]byte(`{"table":"posts","type":"UPDATE","record":{"id":"p1","author_id":"u2"}}`))
	gw.RemoveChannel(ch)
	b.Dispatch([]byte(`{"table":"posts","type":"INSERT","record":{"id":"p2","author_id":"u2"}}`))
	if len(got) != 1 || got[0] != "p1/u2" {
		t.Fatalf("got %v", got)
	}
}
