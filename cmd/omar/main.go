package main

import "omar.ai/academic-chat/internal/cli"

func main() {
	cli.Execute()
}
