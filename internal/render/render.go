package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Variant is one purchasable (seller, color, URL) option of a notification.
type Variant struct {
	Seller string `json:"seller"`
	Color  string `json:"color"`
	URL    string `json:"url"`
}

// Input carries everything a notification's content is derived from. The
// caption is a pure function of this struct, which is what makes content
// hashes comparable across cycles.
type Input struct {
	Category      string
	Brand         string
	Model         string
	RAM           int
	ROM           int
	Price         int64
	AvgPrice      int64
	HistMinPrice  int64
	HistMinSeller string
	HistMinAt     time.Time
	Variants      []Variant
	Tier          int
	Active        bool
}

// Image selects the artwork variant for a post: the highlighted original
// while a deal is active, a dimmed copy once it is not.
type Image struct {
	URL    string
	Dimmed bool
}

// Config tunes caption rendering.
type Config struct {
	// ActualHashtag is appended to captions of active posts only.
	ActualHashtag string
	// ModelNameAliases rewrites fragments of the rendered product title.
	ModelNameAliases map[string]string
}

// Renderer builds captions and image variants for channel posts.
type Renderer struct {
	cfg   Config
	title cases.Caser
}

// New constructs a Renderer.
func New(cfg Config) *Renderer {
	return &Renderer{cfg: cfg, title: cases.Title(language.Und)}
}

// ForImage picks the image variant matching the post's activity state.
func (r *Renderer) ForImage(url string, active bool) Image {
	return Image{URL: url, Dimmed: !active}
}

// Caption renders the Telegram HTML caption for a post.
func (r *Renderer) Caption(in Input) string {
	var b strings.Builder

	b.WriteString(r.applyAliases(fmt.Sprintf("<b>%s %s %s</b>\n",
		r.title.String(in.Category), r.title.String(in.Brand), r.title.String(in.Model))))

	// Apple listings carry no meaningful RAM figure.
	if in.RAM > 0 && !strings.EqualFold(in.Brand, "apple") {
		b.WriteString(fmt.Sprintf("<b>%d/%d GB</b>\n\n", in.RAM, in.ROM))
	} else {
		b.WriteString(fmt.Sprintf("<b>%d GB</b>\n\n", in.ROM))
	}

	if in.Tier > 0 {
		b.WriteString(strings.Repeat("🔥", in.Tier))
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("Deal price: <b><i>%s</i></b> ₽\n", formatAmount(in.Price)))
	b.WriteString(fmt.Sprintf("<i>(%s ₽ below the average)</i>\n\n", formatAmount(in.AvgPrice-in.Price)))

	if in.Price <= in.HistMinPrice {
		b.WriteString("<i>This is the lowest price ever recorded</i>\n")
	} else {
		b.WriteString(fmt.Sprintf("<i>Previous minimum %s ₽ at %s on %s</i>\n",
			formatAmount(in.HistMinPrice), r.title.String(in.HistMinSeller), in.HistMinAt.Format("02.01.2006")))
	}

	sellers := sellerOrder(in.Variants)
	for _, seller := range sellers {
		b.WriteString(fmt.Sprintf("\nBuy at <b><u>%s</u></b>:\n", r.title.String(seller)))
		for _, v := range in.Variants {
			if v.Seller != seller {
				continue
			}
			b.WriteString(fmt.Sprintf("<a href=\"%s\">► %s</a>\n", v.URL, r.title.String(v.Color)))
		}
	}

	b.WriteString(fmt.Sprintf("\n#%s", hashtagWord(in.Brand)))
	for _, seller := range sellers {
		b.WriteString(fmt.Sprintf(" #%s", hashtagWord(seller)))
	}
	if in.Active && r.cfg.ActualHashtag != "" {
		b.WriteString(" " + r.cfg.ActualHashtag)
	}

	return b.String()
}

// Hash returns the hex SHA-256 of rendered caption text.
func Hash(caption string) string {
	sum := sha256.Sum256([]byte(caption))
	return hex.EncodeToString(sum[:])
}

// applyAliases rewrites title fragments in deterministic key order so equal
// inputs always hash equal.
func (r *Renderer) applyAliases(s string) string {
	keys := make([]string, 0, len(r.cfg.ModelNameAliases))
	for from := range r.cfg.ModelNameAliases {
		keys = append(keys, from)
	}
	sort.Strings(keys)

	for _, from := range keys {
		s = strings.ReplaceAll(s, from, r.cfg.ModelNameAliases[from])
	}
	return s
}

// sellerOrder lists distinct sellers preserving first appearance.
func sellerOrder(variants []Variant) []string {
	order := make([]string, 0, len(variants))
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if _, ok := seen[v.Seller]; ok {
			continue
		}
		seen[v.Seller] = struct{}{}
		order = append(order, v.Seller)
	}
	return order
}

func hashtagWord(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// formatAmount renders an integer amount with thin thousands separation.
func formatAmount(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}

	digits := fmt.Sprintf("%d", v)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(d)
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}
