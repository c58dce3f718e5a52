package main

import "github.com/corpusworks/docpipe/cmd"

func main() {
	cmd.Execute()
}
