package main

import "github.com/achmadarw/tia-security-mobile-sub000/cmd"

func main() {
	cmd.Execute()
}
