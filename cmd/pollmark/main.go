package main

import "github.com/vietddude/pollmark/internal/cli"

func main() {
	cli.Execute()
}
