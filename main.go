package main

import "github.com/ValentinKolb/dkvmod/cmd"

func main() {
	cmd.Execute()
}
