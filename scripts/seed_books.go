package main

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"readinglog/internal/models"
	"readinglog/internal/store/sqlstore"
)

var sampleBooks = []struct {
	title  string
	author string
	status string
}{
	{"Dune", "Frank Herbert", models.StatusCompleted},
	{"吾輩は猫である", "夏目漱石", models.StatusReading},
	{"The Left Hand of Darkness", "Ursula K. Le Guin", models.StatusCompleted},
	{"ノルウェイの森", "村上春樹", models.StatusWantToRead},
	{"Project Hail Mary", "Andy Weir", models.StatusReading},
	{"三体", "劉慈欣", models.StatusWantToRead},
}

var sampleNotes = []string{
	"序盤の世界観の説明が丁寧で引き込まれた",
	"主人公の決断に納得がいかない",
	"この章の風景描写が印象的",
	"伏線が回収された瞬間に鳥肌が立った",
	"登場人物の関係図をメモしておく",
	"翻訳の言い回しが少し読みにくい",
	"結末は予想外だったが腑に落ちた",
}

func main() {
	store, err := sqlstore.New("sqlite3", "./readinglog.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	inserted := 0

	for i, sb := range sampleBooks {
		book := models.Book{
			Title:  sb.title,
			Author: sb.author,
			Status: sb.status,
			Progress: models.Progress{
				Current: rand.Intn(300),
				Total:   300,
				Unit:    "page",
			},
			AddedAt:   now.AddDate(0, 0, -len(sampleBooks)+i),
			UpdatedAt: now,
		}
		if err := store.CreateBook(book); err != nil {
			log.Fatalf("Could not insert book %q: %v", sb.title, err)
		}
		inserted++
	}

	books, err := store.ListBooks()
	if err != nil {
		log.Fatal(err)
	}
	noteCount := 0
	for _, b := range books {
		for i := 0; i < rand.Intn(4); i++ {
			note := models.Note{
				BookID:    b.ID,
				Content:   sampleNotes[rand.Intn(len(sampleNotes))],
				Type:      models.NoteTypeNote,
				CreatedAt: now.Add(-time.Duration(rand.Intn(72)) * time.Hour),
			}
			if err := store.CreateNote(note); err != nil {
				log.Fatalf("Could not insert note: %v", err)
			}
			noteCount++
		}
	}

	fmt.Printf("Seeded %d books and %d notes\n", inserted, noteCount)
}
