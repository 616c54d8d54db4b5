package main

import "github.com/iliyamo/bus-seat-reservation/internal/cli"

func main() {
	cli.Execute()
}
