package ai

import (
	"context"
	"fmt"
	"strings"

	"readinglog/internal/books"
)

// BookSearcher is satisfied by books.Client.
type BookSearcher interface {
	Search(ctx context.Context, title string, max int) ([]books.Volume, error)
}

// TextGenerator is the slice of Client the author lookup needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// FindAuthor resolves a book's author by combining a Google Books search
// with a model pick: the top candidates are shown to the model, which
// chooses the canonical author over parodies and derivative works. An
// empty string means no author could be determined; that is not an error.
func FindAuthor(ctx context.Context, searcher BookSearcher, gen TextGenerator, bookTitle string) (string, error) {
	volumes, err := searcher.Search(ctx, bookTitle, 5)
	if err != nil {
		return "", fmt.Errorf("author lookup: %w", err)
	}
	if len(volumes) == 0 {
		return "", nil
	}

	var candidates strings.Builder
	for i, v := range volumes {
		authors := "Unknown"
		if len(v.Authors) > 0 {
			authors = strings.Join(v.Authors, ", ")
		}
		description := "N/A"
		if v.Description != "" {
			description = v.Description
			if len(description) > 100 {
				description = description[:100] + "..."
			}
		}
		fmt.Fprintf(&candidates, "%d. Title: %s, Author(s): %s, Description: %s\n", i+1, v.Title, authors, description)
	}

	prompt := fmt.Sprintf(`The user is searching for the author of the book %q.
Here are the top search results from Google Books:
%s
Identify the most famous, original, or classic author for this book title.
Ignore parodies, summaries, 'in the style of', or derivative works unless the user's title specifically implies them.
If the most famous book with this title is listed, return ONLY that author's name.
If the correct author is not in the list but you are certain who it is (e.g. for a very famous classic), you may output that name.
Output ONLY the author's name.`, bookTitle, candidates.String())

	author, err := gen.GenerateText(ctx, prompt)
	author = strings.TrimSpace(author)

	// Fall back to the first API result when the model fails or answers
	// with something that is clearly not a name.
	if err != nil || author == "" || len([]rune(author)) > 50 {
		if len(volumes[0].Authors) > 0 {
			return strings.Join(volumes[0].Authors, ", "), nil
		}
		return "", err
	}
	return author, nil
}
