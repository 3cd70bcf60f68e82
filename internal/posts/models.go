package posts

import (
	"time"

	"dealwatcher/internal/render"
)

// Post is a published channel notification tracked for later reconciliation.
// All snapshot fields are frozen at publish time; only the variant list,
// text hash, and active flag change afterwards.
type Post struct {
	MessageID       int64
	ConfigurationID int64
	Category        string
	Brand           string
	Model           string
	RAM             int
	ROM             int
	Price           int64
	AvgPrice        int64
	ImageURL        string
	Variants        []render.Variant
	HistMinPrice    int64
	HistMinSeller   string
	HistMinAt       time.Time
	PostedAt        time.Time
	TextHash        string
	Active          bool
}

// Counters are the running totals of published and currently active posts.
type Counters struct {
	AllPosts    int64
	ActivePosts int64
}
