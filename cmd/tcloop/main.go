package main

import (
	"errors"
	"io/fs"
	"log"

	dotenv "github.com/joho/godotenv"
)

var version = "dev"

func main() {
	if err := dotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env file: %v", err)
	}

	if err := Execute(version); err != nil {
		log.Fatal(err)
	}
}
