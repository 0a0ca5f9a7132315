package main

import "gas-price-relay/internal/cli"

func main() {
	cli.Execute()
}
