package manager

import (
	"context"
	"fmt"
	"testing"

	"github.com/agrilovers/internal/model"
)

func TestMergeSuggestions(t *testing.T) {
	popular := []model.Suggestion{
		{Query: "Maize", Count: 3, Source: "popular"},
		{Query: "soybeans", Count: 1, Source: "popular"},
	}
	trending := []model.Suggestion{
		{Query: "maize", Count: 7, Source: "trending"},
		{Query: "Wheat", Count: 2, Source: "trending"},
	}
	got := MergeSuggestions(popular, trending)
	if len(got) != 3 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Query != "maize" || got[0].Count != 7 || got[1].Query != "Wheat" || got[2].Query != "soybeans" {
		t.Errorf("order = %+v", got)
	}

	var many []model.Suggestion
	for i := 0; i < 12; i++ {
		many = append(many, model.Suggestion{Query: fmt.Sprintf("q%d", i), Count: i})
	}
	if n := len(MergeSuggestions(many)); n != maxSuggestions {
		t.Errorf("capped to %d", n)
	}
}

func TestSuggestionsNeedTwoCharacters(t *testing.T) {
	db := newFakeDB()
	gw, _ := newTestGateway(db, "u1")
	got, err := NewSearchManager(gw).GetSearchSuggestions(context.Background(), " m ")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %+v, %v", got, err)
	}
	if len(db.calls) != 0 {
		t.Error("short query must not hit the database")
	}
}

func TestSaveSearchHistorySkipsGuests(t *testing.T) {
	db := newFakeDB()
	gw, _ := newTestGateway(db, "")
	if err := NewSearchManager(gw).SaveSearchHistory(context.Background(), "maize", model.SearchAll, model.SearchFilters{}); err != nil {
		t.Fatal(err)
	}
	gw, _ = newTestGateway(db, "u1")
	if err := NewSearchManager(gw).SaveSearchHistory(context.Background(), "  ", model.SearchAll, model.SearchFilters{}); err != nil {
		t.Fatal(err)
	}
	if db.called("INSERT INTO search_history") != 0 {
		t.Error("guest and empty queries must not be saved")
	}
}

func TestSearchGroupsResultType(t *testing.T) {
	row := []any{"g1", "Maize Growers", "", "crop", "Maize", "Lusaka", "", true, "u2", t0,
		12, "", "Mary", "Banda", ""}
	db := newFakeDB().on("FROM groups_with_stats", result{rows: [][]any{row}})
	gw, _ := newTestGateway(db, "u1")
	res, err := NewSearchManager(gw).SearchGroups(context.Background(), "maize", model.SearchFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Type != "group" || res[0].ID != "g1" {
		t.Fatalf("results = %+v", res)
	}
}
