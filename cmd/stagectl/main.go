package main

import "github.com/phonginreallife/masajid/internal/cli"

func main() {
	cli.Execute()
}
