package main

import "github.com/nextlevelbuilder/tatty/cmd"

func main() {
	cmd.Execute()
}
