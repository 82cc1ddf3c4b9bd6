package main

import "ndlp-proxy/internal/cmd"

func main() {
	cmd.Execute()
}
