package main

import (
	"github.com/joho/godotenv"

	"github.com/winebot/winebot/api/cmd/winebot"
)

func main() {
	_ = godotenv.Load()
	winebot.Execute()
}
