package main

import "github.com/JonMunkholm/pagegen/internal/cli"

func main() {
	cli.Execute()
}
