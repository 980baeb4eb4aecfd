package main

import "github.com/samsaffron/skillshub/cmd"

func main() {
	cmd.Execute()
}
