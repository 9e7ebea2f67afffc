package main

import "funding-spread-alerts/internal/cli"

func main() {
	cli.Execute()
}
