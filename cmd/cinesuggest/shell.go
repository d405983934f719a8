package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cinesuggest/models"
	"cinesuggest/services/aggregate"
	"cinesuggest/services/controller"
)

const shellHelp = `Commands:
  trending                 show this week's trending titles
  search <query>           AI-assisted text search
  image <path> [hint]      identify a title from an image file
  more                     load the next page
  favorites                show your favorites
  fav <n>                  toggle favorite for result #n
  open <n>                 open details for result #n
  close                    close the detail view
  chat <message>           talk to the assistant
  sort <popularity|rating|release_date>
  filter <all|movie|tv>
  lang <code>              switch locale (e.g. pt-BR)
  history                  show recent searches
  help                     show this help
  quit                     exit`

// runShell drives the controller from a line-based prompt. Rendering here is
// deliberately plain; all behavior lives in the controller and engine.
func runShell(ctx context.Context, ctrl *controller.Controller, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "CineSuggest — type 'help' for commands.")

	if err := ctrl.ShowTrending(ctx); err != nil {
		fmt.Fprintf(out, "warning: %v\n", err)
	}
	render(out, ctrl.Snapshot())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Fprintln(out, shellHelp)
			continue
		case "trending":
			ctrl.ShowTrending(ctx)
		case "search":
			if rest == "" {
				fmt.Fprintln(out, "usage: search <query>")
				continue
			}
			ctrl.Search(ctx, rest)
		case "image":
			path, hint, _ := strings.Cut(rest, " ")
			if path == "" {
				fmt.Fprintln(out, "usage: image <path> [hint]")
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(out, "could not read image: %v\n", err)
				continue
			}
			mimeType := mime.TypeByExtension(filepath.Ext(path))
			if mimeType == "" {
				mimeType = "image/jpeg"
			}
			ctrl.SearchByImage(ctx, data, mimeType, strings.TrimSpace(hint))
		case "more":
			ctrl.LoadMore(ctx)
		case "favorites":
			ctrl.ShowFavorites(ctx)
		case "fav":
			toggleFavorite(ctrl, out, rest)
		case "open":
			openDetail(ctx, ctrl, out, rest)
		case "close":
			ctrl.CloseDetail()
		case "chat":
			if rest == "" {
				fmt.Fprintln(out, "usage: chat <message>")
				continue
			}
			ctrl.SendChatMessage(ctx, rest)
			renderChat(out, ctrl.ChatTranscript())
			continue
		case "sort":
			ctrl.SetSort(aggregate.SortKey(rest))
		case "filter":
			ctrl.SetFilter(aggregate.FilterKey(rest))
		case "lang":
			if err := ctrl.SetLocale(ctx, rest); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
		case "history":
			for _, q := range ctrl.Snapshot().History {
				fmt.Fprintf(out, "  %s\n", q)
			}
			continue
		default:
			fmt.Fprintf(out, "unknown command %q — type 'help'\n", cmd)
			continue
		}
		render(out, ctrl.Snapshot())
	}
}

func nthItem(snap controller.Snapshot, raw string) (models.DisplayItem, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > len(snap.Items) {
		return models.DisplayItem{}, false
	}
	return snap.Items[n-1], true
}

func toggleFavorite(ctrl *controller.Controller, out io.Writer, rest string) {
	item, ok := nthItem(ctrl.Snapshot(), rest)
	if !ok {
		fmt.Fprintln(out, "usage: fav <result number>")
		return
	}
	added, err := ctrl.ToggleFavorite(item.CompositeKey())
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	if added {
		fmt.Fprintf(out, "added %s to favorites\n", item.Title)
	} else {
		fmt.Fprintf(out, "removed %s from favorites\n", item.Title)
	}
}

func openDetail(ctx context.Context, ctrl *controller.Controller, out io.Writer, rest string) {
	item, ok := nthItem(ctrl.Snapshot(), rest)
	if !ok {
		fmt.Fprintln(out, "usage: open <result number>")
		return
	}
	ctrl.OpenDetail(ctx, item.Kind, item.ID)
}

func render(out io.Writer, snap controller.Snapshot) {
	if snap.Error != "" {
		fmt.Fprintln(out, snap.Error)
		return
	}

	if snap.DetailOpen && snap.Detail != nil {
		renderDetail(out, snap.Detail)
		return
	}

	if len(snap.Items) == 0 {
		if snap.View == controller.ViewFavorites {
			fmt.Fprintln(out, "You haven't added any favorites yet.")
		} else if snap.HasSearched {
			fmt.Fprintln(out, "No results found. Try a different search.")
		}
		return
	}

	fmt.Fprintf(out, "[%s] page %d", snap.View, snap.Page)
	if snap.View != controller.ViewResults {
		fmt.Fprintf(out, ", sorted by %s", snap.SortKey)
	}
	if snap.FilterKey != aggregate.FilterAll {
		fmt.Fprintf(out, ", %s only", snap.FilterKey)
	}
	fmt.Fprintln(out)

	for i, item := range snap.Items {
		star := " "
		if item.IsFavorite {
			star = "*"
		}
		year := ""
		if len(item.ReleaseDate) >= 4 {
			year = " (" + item.ReleaseDate[:4] + ")"
		}
		fmt.Fprintf(out, "%s %2d. %-6s %s%s — %.1f/10\n", star, i+1, item.Kind, item.Title, year, item.VoteAverage)
		if item.Providers != nil && len(item.Providers.Flatrate) > 0 {
			names := make([]string, 0, len(item.Providers.Flatrate))
			for _, p := range item.Providers.Flatrate {
				names = append(names, p.Name)
			}
			fmt.Fprintf(out, "        streaming on %s\n", strings.Join(names, ", "))
		}
	}
	if snap.CanLoadMore {
		fmt.Fprintln(out, "(type 'more' for the next page)")
	}
}

func renderDetail(out io.Writer, d *models.DetailedItem) {
	fmt.Fprintf(out, "%s — %.1f/10 (%d votes)\n", d.Title, d.VoteAverage, d.VoteCount)
	if len(d.Genres) > 0 {
		names := make([]string, 0, len(d.Genres))
		for _, g := range d.Genres {
			names = append(names, g.Name)
		}
		fmt.Fprintf(out, "Genres: %s\n", strings.Join(names, ", "))
	}
	if d.Overview != "" {
		fmt.Fprintln(out, d.Overview)
	}
	if d.Providers != nil && len(d.Providers.Flatrate) > 0 {
		names := make([]string, 0, len(d.Providers.Flatrate))
		for _, p := range d.Providers.Flatrate {
			names = append(names, p.Name)
		}
		fmt.Fprintf(out, "Streaming on: %s\n", strings.Join(names, ", "))
	}
	if len(d.Similar) > 0 {
		fmt.Fprintln(out, "You might also like:")
		for _, s := range d.Similar {
			fmt.Fprintf(out, "  - %s (%.1f/10)\n", s.Title, s.VoteAverage)
		}
	}
}

func renderChat(out io.Writer, transcript []models.ChatMessage) {
	if len(transcript) == 0 {
		return
	}
	last := transcript[len(transcript)-1]
	switch last.Role {
	case models.RoleAssistant:
		fmt.Fprintf(out, "assistant: %s\n", last.Content)
	case models.RoleError:
		fmt.Fprintln(out, last.Content)
	}
}
