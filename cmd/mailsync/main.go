package main

import "mailsync/internal/cli"

func main() {
	cli.Execute()
}
