package main

import (
	"log"

	"warden/cmd/internal/app"
)

func main() {
	if err := app.RunMailer(); err != nil {
		log.Fatal(err)
	}
}
