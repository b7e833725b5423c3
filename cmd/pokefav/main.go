package main

import (
	"log"

	"github.com/MrSnakeDoc/pokefav/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("❌ pokefav failed to initialize: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ pokefav failed to start: %v", err)
	}
}
