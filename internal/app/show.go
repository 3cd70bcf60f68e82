package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"dealwatcher/internal/posts"
)

// Show prints the tracked channel posts, newest last.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show posts")
	}
	defer closeStore()

	postStore := posts.NewPGStore(store.Pool())
	list, err := postStore.LoadPosts(ctx)
	if err != nil {
		return err
	}
	counters, err := postStore.LoadCounters(ctx)
	if err != nil {
		return err
	}

	if opts.Limit > 0 && len(list) > opts.Limit {
		list = list[len(list)-opts.Limit:]
	}

	if len(list) == 0 {
		fmt.Fprintln(os.Stdout, "no posts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Posted (UTC)\tMessage\tProduct\tMemory\tPrice\tAverage\tVariants\tActive")

	for _, p := range list {
		memory := fmt.Sprintf("%d GB", p.ROM)
		if p.RAM > 0 {
			memory = fmt.Sprintf("%d/%d GB", p.RAM, p.ROM)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s %s\t%s\t%d\t%d\t%d\t%t\n",
			p.PostedAt.UTC().Format(time.RFC3339),
			p.MessageID,
			p.Brand,
			p.Model,
			memory,
			p.Price,
			p.AvgPrice,
			len(p.Variants),
			p.Active,
		)
	}

	writer.Flush()
	fmt.Fprintf(os.Stdout, "\n%d posted all-time, %d currently active\n", counters.AllPosts, counters.ActivePosts)
	return nil
}
