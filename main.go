package main

import (
	"github.com/parsegate/parsegate/cmd"
)

func main() {
	cmd.Execute()
}
