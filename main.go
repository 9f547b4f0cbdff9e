package main

import "github.com/mpapenbr/iracelog-tiretemp/cmd"

func main() {
	cmd.Execute()
}
