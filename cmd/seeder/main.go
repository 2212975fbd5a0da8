// cmd/seeder/main.go
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/gatherly/invites-backend/internal/db"
	"github.com/gatherly/invites-backend/internal/model"
	"github.com/gatherly/invites-backend/internal/repository"
)

func main() {
	_ = godotenv.Load()

	conn, err := db.Connect(os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	schema, err := os.ReadFile("seed/schema.sql")
	if err != nil {
		log.Fatalf("failed to read schema: %v", err)
	}
	if _, err := conn.Exec(string(schema)); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}
	fmt.Println("Applied: seed/schema.sql")

	eventRepo := &repository.EventRepository{DB: conn}
	guestRepo := &repository.GuestRepository{DB: conn}

	event := &model.Event{
		Name:           "Marina & Tom's Wedding",
		Venue:          "The Old Mill, Riverside",
		StartsAt:       time.Now().AddDate(0, 2, 0),
		Locale:         "en",
		CheckInEnabled: true,
	}
	if err := eventRepo.Create(event); err != nil {
		log.Fatalf("failed to seed event: %v", err)
	}

	guests := []model.Guest{
		{EventID: event.ID, Name: "Alice Smith", Phone: "254712345678"},
		{EventID: event.ID, Name: "Bob Jones", Phone: "254723456789"},
		{EventID: event.ID, Name: "Carol White", Phone: "254734567890"},
	}
	for i := range guests {
		if err := guestRepo.Create(&guests[i]); err != nil {
			log.Fatalf("failed to seed guest: %v", err)
		}
	}

	fmt.Printf("Seeded event %d with %d guests\n", event.ID, len(guests))
	fmt.Println("Database seeding completed successfully!")
}
