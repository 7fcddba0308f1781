package main

import "github.com/betbot/signaltrader/internal/cli"

func main() {
	cli.Execute()
}
