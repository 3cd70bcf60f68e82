package render

import (
	"strings"
	"testing"
	"time"
)

func testInput() Input {
	return Input{
		Category:      "smartphone",
		Brand:         "acme",
		Model:         "alpha 5g",
		RAM:           8,
		ROM:           256,
		Price:         40000,
		AvgPrice:      45000,
		HistMinPrice:  42000,
		HistMinSeller: "shop",
		HistMinAt:     time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		Variants: []Variant{
			{Seller: "shop", Color: "black", URL: "https://shop.example/1"},
			{Seller: "shop", Color: "white", URL: "https://shop.example/2"},
			{Seller: "other", Color: "black", URL: "https://other.example/1"},
		},
		Tier:   2,
		Active: true,
	}
}

func TestCaptionContents(t *testing.T) {
	r := New(Config{ActualHashtag: "#deal"})
	caption := r.Caption(testInput())

	for _, want := range []string{
		"<b>Smartphone Acme Alpha 5G</b>",
		"<b>8/256 GB</b>",
		"🔥🔥",
		"40 000",
		"5 000",
		"This is the lowest price ever recorded",
		"Buy at <b><u>Shop</u></b>:",
		"Buy at <b><u>Other</u></b>:",
		"<a href=\"https://shop.example/2\">► White</a>",
		"#acme #shop #other #deal",
	} {
		if !strings.Contains(caption, want) {
			t.Fatalf("caption missing %q:\n%s", want, caption)
		}
	}
}

func TestCaptionPreviousMinimumLine(t *testing.T) {
	in := testInput()
	in.Price = 43000

	caption := New(Config{}).Caption(in)
	if !strings.Contains(caption, "Previous minimum 42 000 ₽ at Shop on 10.01.2026") {
		t.Fatalf("caption missing previous-minimum line:\n%s", caption)
	}
	if strings.Contains(caption, "lowest price ever") {
		t.Fatal("lowest-ever line must not render above the historical minimum")
	}
}

func TestCaptionOmitsRAMForApple(t *testing.T) {
	in := testInput()
	in.Brand = "Apple"

	caption := New(Config{}).Caption(in)
	if strings.Contains(caption, "8/256 GB") {
		t.Fatal("apple listings must render storage only")
	}
	if !strings.Contains(caption, "<b>256 GB</b>") {
		t.Fatalf("caption missing storage line:\n%s", caption)
	}
}

func TestCaptionInactiveDropsActualHashtag(t *testing.T) {
	in := testInput()
	in.Active = false

	caption := New(Config{ActualHashtag: "#deal"}).Caption(in)
	if strings.Contains(caption, "#deal") {
		t.Fatal("inactive captions must not carry the actual hashtag")
	}
}

func TestCaptionAppliesModelAliases(t *testing.T) {
	r := New(Config{ModelNameAliases: map[string]string{"Alpha 5G": "Alpha V"}})
	caption := r.Caption(testInput())

	if !strings.Contains(caption, "Alpha V") {
		t.Fatalf("alias not applied:\n%s", caption)
	}
	if strings.Contains(caption, "Alpha 5G") {
		t.Fatal("original model fragment should have been rewritten")
	}
}

func TestHashIsStable(t *testing.T) {
	r := New(Config{ActualHashtag: "#deal", ModelNameAliases: map[string]string{"a": "b", "c": "d"}})

	first := Hash(r.Caption(testInput()))
	for i := 0; i < 20; i++ {
		if got := Hash(r.Caption(testInput())); got != first {
			t.Fatalf("hash changed between identical renders: %s vs %s", first, got)
		}
	}

	in := testInput()
	in.Active = false
	if Hash(r.Caption(in)) == first {
		t.Fatal("different captions must not collide on hash")
	}
}
