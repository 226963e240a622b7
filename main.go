package main

import (
	"example.com/backstage/services/stocktake/cmd"
)

func main() {
	cmd.Execute()
}
