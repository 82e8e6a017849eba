package main

import "histcache/cmd"

func main() {
	cmd.Execute()
}
